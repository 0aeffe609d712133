package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mahaj/dupahar-composer/pkg/composer"
	"github.com/mahaj/dupahar-composer/pkg/emoji"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/upload"
	"github.com/spf13/afero"
)

const progressInterval = 250 * time.Millisecond

// subscriber follows channels on the gateway connection.
type subscriber interface {
	Subscribe(channelID string) error
	Unsubscribe(channelID string) error
}

// shell maps input lines to composer operations and renders what comes
// back from the gateway.
type shell struct {
	c      *composer.Composer
	subs   subscriber
	fs     afero.Fs
	emoji  *emoji.Translator
	userID string

	outMu sync.Mutex
	out   io.Writer

	wg sync.WaitGroup
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

// onChange mirrors the input line into the draft. Command lines are not
// drafts and leave it untouched.
func (s *shell) onChange(line string) {
	if strings.HasPrefix(line, "/") {
		return
	}
	s.c.SetDraftText(line)
}

// exec handles one entered line and reports whether the user asked to quit.
func (s *shell) exec(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		s.c.SetDraftText(line)
		s.send(ctx)
		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit":
		return true
	case "send":
		s.send(ctx)
	case "draft":
		s.printf("draft: %q", s.c.State().DraftText)
	case "upload":
		s.upload(ctx, arg)
	case "cancel":
		s.c.CancelActiveUpload()
		s.printf("upload cancelled")
	case "picker":
		s.c.ToggleEmojiPicker()
		if s.c.State().EmojiPickerOpen {
			var b strings.Builder
			for _, code := range s.emoji.Codes() {
				g, _ := s.emoji.Glyph(code)
				fmt.Fprintf(&b, "%s :%s:  ", g, code)
			}
			s.printf("%s", strings.TrimSpace(b.String()))
		}
	case "emoji":
		if arg == "" {
			s.printf("usage: /emoji <shortcode>")
			return false
		}
		s.c.InsertEmoji(arg)
		s.printf("draft: %q (/send to send it)", s.c.State().DraftText)
	case "channel":
		s.switchChannel(arg)
	case "errors":
		errs := s.c.Errors()
		if len(errs) == 0 {
			s.printf("no errors")
		}
		for _, e := range errs {
			s.printf("%s [%s/%s] %v", e.At.Format(time.TimeOnly), e.Category, e.Kind, e.Err)
		}
	case "help":
		s.printf("commands: /send /draft /upload <file> /cancel /picker /emoji <code> /channel <id> [private] /errors /quit")
	default:
		s.printf("unknown command /%s (try /help)", cmd)
	}
	return false
}

func (s *shell) send(ctx context.Context) {
	result, err := s.c.SubmitText(ctx)
	if err != nil {
		s.printf("! %v", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := <-result; err != nil {
			s.printf("! %v (draft kept, /send to retry)", err)
		}
	}()
}

func (s *shell) upload(ctx context.Context, name string) {
	if name == "" {
		s.printf("usage: /upload <file>")
		return
	}
	f, err := s.fs.Open(name)
	if err != nil {
		s.printf("! %v", err)
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		s.printf("! %v", err)
		return
	}
	meta := upload.Metadata{
		Name:        filepath.Base(name),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Size:        info.Size(),
	}

	sess, err := s.c.StartUpload(ctx, f, meta)
	if err != nil {
		f.Close()
		s.printf("! %v", err)
		return
	}
	s.printf("uploading %s (%s)", meta.Name, humanize.Bytes(uint64(meta.Size)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer f.Close()
		s.reportProgress(sess)
	}()
}

// reportProgress prints the composer's upload status until the session ends
// and the composer has settled it.
func (s *shell) reportProgress(sess *upload.Session) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	last := -1
	for {
		st := s.c.State()
		u := st.Upload
		if u == nil || u.ID != sess.ID() {
			// Cancelled or replaced.
			return
		}
		if u.Percent != last && st.UploadPhase == upload.PhaseUploading {
			last = u.Percent
			s.printf("  %3d%%  %s / %s", u.Percent, humanize.Bytes(uint64(u.Transferred)), humanize.Bytes(uint64(u.Total)))
		}
		switch st.UploadPhase {
		case upload.PhaseDone:
			s.printf("uploaded %s", u.URL)
			return
		case upload.PhaseError:
			s.printf("! upload failed, see /errors")
			return
		}
		<-ticker.C
	}
}

func (s *shell) switchChannel(arg string) {
	id, flag, _ := strings.Cut(arg, " ")
	if id == "" {
		s.printf("usage: /channel <id> [private]")
		return
	}
	next := composer.Channel{ID: id, Private: strings.TrimSpace(flag) == "private"}
	prev := s.c.State().Channel
	if err := s.c.SetChannel(next); err != nil {
		s.printf("! %v", err)
		return
	}
	if next.ID == prev.ID {
		return
	}
	if err := s.subs.Subscribe(next.ID); err != nil {
		s.printf("! %v", err)
	}
	if err := s.subs.Unsubscribe(prev.ID); err != nil {
		s.printf("! %v", err)
	}
	s.printf("now in #%s", next.ID)
}

// onFrame renders gateway broadcasts.
func (s *shell) onFrame(f model.Frame) {
	switch f.Op {
	case model.FrameMessage:
		if f.Record == nil {
			return
		}
		who := f.Record.Author.Name
		if who == "" {
			who = f.Record.Author.ID
		}
		body := f.Record.Text
		if f.Record.IsImage() {
			body = "[image] " + f.Record.ImageURL
		}
		s.printf("#%s %s %s: %s", f.ChannelID, f.Record.Timestamp.Local().Format(time.Kitchen), who, body)
	case model.FrameTyping:
		if f.UserID == s.userID {
			return
		}
		if f.Active {
			s.printf("#%s %s is typing...", f.ChannelID, f.Name)
		}
	}
}

// wait blocks until background sends and progress reports finish.
func (s *shell) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for pending work")
	}
}
