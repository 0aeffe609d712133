package model

import "time"

// FrameType names a gateway websocket frame.
type FrameType string

const (
	// client -> gateway
	FrameAppend       FrameType = "append"
	FrameTypingSet    FrameType = "typing.set"
	FrameTypingRemove FrameType = "typing.remove"
	FrameSubscribe    FrameType = "subscribe"
	FrameUnsubscribe  FrameType = "unsubscribe"

	// gateway -> client
	FrameAck     FrameType = "ack"
	FrameNack    FrameType = "nack"
	FrameMessage FrameType = "message"
	FrameTyping  FrameType = "typing"
)

// Frame is the single JSON envelope exchanged with the gateway. Fields are
// populated according to Op.
type Frame struct {
	Op        FrameType      `json:"op"`
	Ref       string         `json:"ref,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Active    bool           `json:"active,omitempty"`
	Record    *MessageRecord `json:"record,omitempty"`
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Error     string         `json:"error,omitempty"`
}
