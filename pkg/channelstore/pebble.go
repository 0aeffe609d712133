package channelstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
)

// PebbleLog is an embedded durable append log. Records of a channel live
// under "channel/<id>/msg/" keyed by their zero-padded ordering key, so a
// prefix scan yields them in append order.
type PebbleLog struct {
	mu   sync.Mutex
	db   *pebble.DB
	node *snowflake.Node
}

func OpenPebbleLog(dir string, node *snowflake.Node) (*PebbleLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble log at %s: %w", dir, err)
	}
	return &PebbleLog{db: db, node: node}, nil
}

func msgPrefix(channelID string) []byte {
	return []byte("channel/" + channelID + "/msg/")
}

func msgKey(channelID string, id int64) []byte {
	return fmt.Appendf(msgPrefix(channelID), "%020d", id)
}

func (p *PebbleLog) Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error) {
	if err := CheckAppend(channelID, rec); err != nil {
		return model.Ack{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Ack{}, err
	}

	// Serialized so keys hit the log in the order they were issued.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return model.Ack{}, ErrClosed
	}

	id, ts := p.node.Next()
	ack := model.Ack{ID: id, Timestamp: ts}
	data, err := json.Marshal(rec.Stamp(ack))
	if err != nil {
		return model.Ack{}, fmt.Errorf("encode record: %w", err)
	}
	if err := p.db.Set(msgKey(channelID, id), data, pebble.Sync); err != nil {
		return model.Ack{}, fmt.Errorf("write record: %w", err)
	}
	return ack, nil
}

// Records returns the channel's log in append order.
func (p *PebbleLog) Records(channelID string) ([]model.MessageRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil, ErrClosed
	}

	prefix := msgPrefix(channelID)
	upper := append([]byte(nil), prefix...)
	upper[len(upper)-1]++ // '/' -> '0'

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.MessageRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec model.MessageRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (p *PebbleLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
