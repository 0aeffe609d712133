// Package channelstore is the boundary between the composer and the remote
// realtime store: an ordered append log per channel plus a presence sub-tree
// keyed by (channel, user).
package channelstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mahaj/dupahar-composer/pkg/model"
)

var (
	ErrClosed         = errors.New("channel store closed")
	ErrInvalidChannel = errors.New("invalid channel id")
)

// Store appends records to a channel's log. The store assigns the ordering
// key and timestamp atomically with insertion and returns only after the
// record has been durably accepted.
type Store interface {
	Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error)
}

// Presence maintains typing entries.
type Presence interface {
	Set(ctx context.Context, channelID, userID, name string) error
	Remove(ctx context.Context, channelID, userID string) error
}

// TypingLister lists the typing entries of a channel as userID -> name.
type TypingLister interface {
	Typing(ctx context.Context, channelID string) (map[string]string, error)
}

// CheckAppend validates the arguments every Append implementation receives.
func CheckAppend(channelID string, rec model.MessageRecord) error {
	if err := CheckChannel(channelID); err != nil {
		return err
	}
	if err := rec.Body.Validate(); err != nil {
		return err
	}
	if rec.Author.ID == "" {
		return errors.New("message has no author")
	}
	return nil
}

// CheckChannel rejects ids that would break key layouts built from them.
func CheckChannel(channelID string) error {
	if channelID == "" || strings.ContainsAny(channelID, "/*?[]{}\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channelID)
	}
	return nil
}
