package channelstore

import (
	"context"
	"fmt"

	"github.com/mahaj/dupahar-composer/pkg/db"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
)

const insertMessage = `INSERT INTO messages (channel_id, id, user_id, user_name, user_avatar, content, image, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// ScyllaLog appends records to the messages table at quorum consistency.
type ScyllaLog struct {
	session *db.Session
	node    *snowflake.Node
}

func NewScyllaLog(session *db.Session, node *snowflake.Node) *ScyllaLog {
	return &ScyllaLog{session: session, node: node}
}

func (s *ScyllaLog) Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error) {
	if err := CheckAppend(channelID, rec); err != nil {
		return model.Ack{}, err
	}

	id, ts := s.node.Next()
	err := s.session.Query(insertMessage,
		channelID, id, rec.Author.ID, rec.Author.Name, rec.Author.Avatar, rec.Text, rec.ImageURL, ts,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Ack{}, fmt.Errorf("save message to scylla: %w", err)
	}
	return model.Ack{ID: id, Timestamp: ts}, nil
}
