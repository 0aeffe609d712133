package composer

import (
	"slices"

	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/upload"
)

// Channel is the conversation a composer writes to.
type Channel struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

// Upload is the composer's view of its current or last upload.
type Upload struct {
	ID          string
	Path        string
	ChannelID   string
	Transferred int64
	Total       int64
	Percent     int
	Phase       upload.Phase
	URL         string
}

// State is a snapshot of a composer. Mutating it has no effect on the
// composer.
type State struct {
	DraftText       string
	Channel         Channel
	Author          model.Author
	Upload          *Upload
	UploadPhase     upload.Phase
	Errors          []ErrorRecord
	EmojiPickerOpen bool
	// Sending is true while a text append is in flight.
	Sending bool
}

func (c *Composer) snapshot() State {
	st := State{
		DraftText:       c.draft,
		Channel:         c.channel,
		Author:          c.author,
		UploadPhase:     c.phase,
		Errors:          slices.Clone(c.errs),
		EmojiPickerOpen: c.pickerOpen,
		Sending:         c.sending > 0,
	}
	switch {
	case c.pending != nil:
		u := c.pending.status
		st.Upload = &u
	case c.last != nil:
		u := *c.last
		st.Upload = &u
	}
	return st
}
