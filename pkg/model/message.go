package model

import (
	"errors"
	"time"
)

var (
	ErrEmptyBody     = errors.New("message body has neither content nor image")
	ErrAmbiguousBody = errors.New("message body has both content and image")
)

// Author identifies who wrote a message.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Body carries exactly one of Text or ImageURL.
type Body struct {
	Text     string `json:"content,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

func TextBody(text string) Body {
	return Body{Text: text}
}

func ImageBody(url string) Body {
	return Body{ImageURL: url}
}

func (b Body) IsImage() bool {
	return b.ImageURL != ""
}

// Validate reports whether exactly one of the body fields is populated.
func (b Body) Validate() error {
	switch {
	case b.Text == "" && b.ImageURL == "":
		return ErrEmptyBody
	case b.Text != "" && b.ImageURL != "":
		return ErrAmbiguousBody
	}
	return nil
}

// MessageRecord is a finalized chat message. ID and Timestamp are zero until
// a store accepts the record.
type MessageRecord struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Author    Author    `json:"user"`
	Body
}

// Ack is returned by a store once a record has been durably accepted.
type Ack struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Stamp returns a copy of the record carrying the ordering key and timestamp
// from ack.
func (r MessageRecord) Stamp(ack Ack) MessageRecord {
	r.ID = ack.ID
	r.Timestamp = ack.Timestamp
	return r
}

// Event is a record as it travels through the log: the record plus the
// channel it was appended to.
type Event struct {
	ChannelID string        `json:"channel_id"`
	Record    MessageRecord `json:"record"`
}
