package channelstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
)

// Memory is an in-process Store, Presence and TypingLister. Appends are
// ordered by the snowflake node it owns.
type Memory struct {
	mu       sync.RWMutex
	node     *snowflake.Node
	logs     map[string][]model.MessageRecord
	presence map[string]map[string]string // channel_id -> user_id -> name
	onAppend func(model.Event)
}

func NewMemory(node *snowflake.Node) *Memory {
	return &Memory{
		node:     node,
		logs:     make(map[string][]model.MessageRecord),
		presence: make(map[string]map[string]string),
	}
}

// OnAppend registers fn to be called after every accepted record.
func (m *Memory) OnAppend(fn func(model.Event)) {
	m.mu.Lock()
	m.onAppend = fn
	m.mu.Unlock()
}

func (m *Memory) Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error) {
	if err := CheckAppend(channelID, rec); err != nil {
		return model.Ack{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Ack{}, err
	}

	m.mu.Lock()
	id, ts := m.node.Next()
	ack := model.Ack{ID: id, Timestamp: ts}
	rec = rec.Stamp(ack)
	m.logs[channelID] = append(m.logs[channelID], rec)
	fn := m.onAppend
	m.mu.Unlock()

	if fn != nil {
		fn(model.Event{ChannelID: channelID, Record: rec})
	}
	return ack, nil
}

// Records returns a copy of a channel's log in append order.
func (m *Memory) Records(channelID string) []model.MessageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.logs[channelID])
}

func (m *Memory) Set(ctx context.Context, channelID, userID, name string) error {
	if err := CheckChannel(channelID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presence[channelID] == nil {
		m.presence[channelID] = make(map[string]string)
	}
	m.presence[channelID][userID] = name
	return nil
}

func (m *Memory) Remove(ctx context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if users, ok := m.presence[channelID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(m.presence, channelID)
		}
	}
	return nil
}

func (m *Memory) Typing(ctx context.Context, channelID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.presence[channelID]), nil
}
