// Package composer drafts and submits messages for one open channel: text
// submission, typing presence, image upload and emoji insertion.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/emoji"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/typing"
	"github.com/mahaj/dupahar-composer/pkg/upload"
)

type Option func(*Composer)

func WithEmoji(t *emoji.Translator) Option {
	return func(c *Composer) { c.emoji = t }
}

// WithUploadRoot places every upload path under root.
func WithUploadRoot(root string) Option {
	return func(c *Composer) { c.uploadRoot = strings.Trim(root, "/") }
}

func WithChunkSize(n int) Option {
	return func(c *Composer) { c.chunkSize = n }
}

func WithTypingRefresh(d time.Duration) Option {
	return func(c *Composer) { c.typingRefresh = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) { c.logger = l }
}

// Composer owns the state of one message composer. Its methods never block
// on the network and are safe for concurrent use; store and upload results
// are applied from background goroutines.
type Composer struct {
	store         channelstore.Store
	uploads       upload.Backend
	typing        *typing.Signal
	emoji         *emoji.Translator
	author        model.Author
	uploadRoot    string
	chunkSize     int
	typingRefresh time.Duration
	logger        *slog.Logger
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	draft      string
	channel    Channel
	pickerOpen bool
	sending    int
	errs       []ErrorRecord
	pending    *pendingUpload
	last       *Upload
	phase      upload.Phase
}

type pendingUpload struct {
	session *upload.Session
	channel Channel
	// ctx outlives the transfer until the image append is done.
	ctx    context.Context
	cancel context.CancelFunc
	status Upload
}

// New opens a composer for author on channel. Presence entries are written
// to presence and uploads go to uploads, which may be nil when the caller
// does not offer media.
func New(store channelstore.Store, presence channelstore.Presence, uploads upload.Backend, author model.Author, channel Channel, opts ...Option) (*Composer, error) {
	if store == nil || presence == nil {
		return nil, errors.New("composer needs a channel store and a presence store")
	}
	if author.ID == "" {
		return nil, errors.New("composer needs an author id")
	}
	if err := channelstore.CheckChannel(channel.ID); err != nil {
		return nil, err
	}

	c := &Composer{
		store:         store,
		uploads:       uploads,
		author:        author,
		channel:       channel,
		chunkSize:     upload.DefaultChunkSize,
		typingRefresh: typing.DefaultRefresh,
		logger:        logging.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.emoji == nil {
		c.emoji = emoji.Default()
	}
	c.logger = c.logger.With("user_id", author.ID)
	c.typing = typing.New(presence, typing.WithRefresh(c.typingRefresh), typing.WithLogger(c.logger))
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// record appends an error. Callers hold c.mu.
func (c *Composer) record(category Category, err error) {
	c.errs = append(c.errs, ErrorRecord{Kind: kindOf(err), Category: category, Err: err, At: c.now()})
}

// clearErrors drops the records of one category. Callers hold c.mu.
func (c *Composer) clearErrors(category Category) {
	kept := c.errs[:0]
	for _, r := range c.errs {
		if r.Category != category {
			kept = append(kept, r)
		}
	}
	clear(c.errs[len(kept):])
	c.errs = kept
}

// signalDraft reports the draft to the typing signal. Callers hold c.mu so
// writes reach the signal in edit order.
func (c *Composer) signalDraft() {
	c.typing.DraftChanged(c.channel.ID, c.author.ID, c.author.Name, strings.TrimSpace(c.draft) == "")
}

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Errors returns the recorded errors, oldest first.
func (c *Composer) Errors() []ErrorRecord {
	return c.State().Errors
}

func (c *Composer) SetDraftText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.draft = text
	c.signalDraft()
}

// SubmitText appends the draft to the current channel. An empty or
// whitespace-only draft is rejected with ErrEmptyMessage without touching the
// store. Otherwise the append runs in the background and the returned
// channel yields its outcome after the composer state has been updated.
func (c *Composer) SubmitText(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if strings.TrimSpace(c.draft) == "" {
		c.record(CategoryMessage, ErrEmptyMessage)
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	text, ch := c.draft, c.channel
	c.sending++
	c.wg.Add(1)
	c.mu.Unlock()

	rec := model.MessageRecord{Author: c.author, Body: model.TextBody(text)}
	result := make(chan error, 1)
	go func() {
		defer c.wg.Done()
		defer close(result)

		actx, cancel := c.bind(ctx)
		_, err := c.store.Append(actx, ch.ID, rec)
		cancel()

		c.mu.Lock()
		c.sending--
		if err != nil {
			err = &NetworkError{Op: "send message", Err: err}
			c.record(CategoryMessage, err)
			c.mu.Unlock()
			c.logger.Warn("message append failed", "channel", ch.ID, "error", err)
			result <- err
			return
		}
		// Text typed while the send was in flight stays.
		if c.draft == text {
			c.draft = ""
		}
		c.clearErrors(CategoryMessage)
		c.typing.Sent(ch.ID, c.author.ID)
		if c.channel != ch {
			// The draft followed a channel switch; its entry there must
			// track the cleared draft too.
			c.signalDraft()
		}
		c.mu.Unlock()
		result <- nil
	}()
	return result, nil
}

// bind derives a context cancelled by either ctx or Close.
func (c *Composer) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// UploadPath builds the object path for a new upload to ch.
func UploadPath(root string, ch Channel, meta upload.Metadata) string {
	scope := "public"
	if ch.Private {
		scope = path.Join("private", ch.ID)
	}
	return path.Join(root, scope, uuid.NewString()+"."+meta.Ext())
}

// PathChannel reports the channel a private object path built by UploadPath
// belongs to. Public paths report false.
func PathChannel(p string) (string, bool) {
	segs := strings.Split(path.Clean(p), "/")
	n := len(segs)
	if n < 3 || segs[n-3] != "private" {
		return "", false
	}
	return segs[n-2], true
}

// StartUpload streams file to the upload backend. Once the transfer
// succeeds, an image message is appended to the channel that was open when
// the upload started. Only one upload runs at a time; a second call while
// one is uploading fails with ErrUploadInProgress.
func (c *Composer) StartUpload(ctx context.Context, file io.Reader, meta upload.Metadata) (*upload.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.pending != nil {
		c.record(CategoryUpload, ErrUploadInProgress)
		return nil, ErrUploadInProgress
	}
	c.clearErrors(CategoryUpload)
	if c.uploads == nil {
		err := fmt.Errorf("%w: no upload backend configured", ErrInvalidUpload)
		c.record(CategoryUpload, err)
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidUpload, err)
		c.record(CategoryUpload, err)
		return nil, err
	}

	p := &pendingUpload{channel: c.channel}
	p.ctx, p.cancel = c.bind(ctx)
	dest := UploadPath(c.uploadRoot, p.channel, meta)
	// The observer blocks on c.mu until p is installed below.
	p.session = upload.Start(p.ctx, c.uploads, file, meta, dest, func(ev upload.Event) {
		c.onUploadEvent(p, ev)
	}, upload.WithChunkSize(c.chunkSize), upload.WithLogger(c.logger))
	p.status = Upload{
		ID:        p.session.ID(),
		Path:      dest,
		ChannelID: p.channel.ID,
		Total:     meta.Size,
		Phase:     upload.PhaseUploading,
	}
	c.pending, c.last = p, nil
	c.phase = upload.PhaseUploading

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-p.session.Done()
	}()
	return p.session, nil
}

// onUploadEvent runs on the session goroutine and must not block on the
// network: Cancel waits for it. Events of a session that is no longer
// pending are ignored.
func (c *Composer) onUploadEvent(p *pendingUpload, ev upload.Event) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	p.status.Transferred, p.status.Total = ev.Transferred, ev.Total
	p.status.Percent = max(p.status.Percent, ev.Percent())

	switch ev.Kind {
	case upload.EventProgress:
		c.mu.Unlock()
	case upload.EventFailed:
		c.finishUpload(p, upload.PhaseError, &NetworkError{Op: "upload image", Err: ev.Err})
		c.mu.Unlock()
		p.cancel()
	case upload.EventSucceeded:
		p.status.URL = ev.URL
		c.wg.Add(1)
		c.mu.Unlock()
		go c.appendImage(p, ev.URL)
	}
}

// appendImage sends the uploaded image to the channel captured at start.
func (c *Composer) appendImage(p *pendingUpload, url string) {
	defer c.wg.Done()
	defer p.cancel()

	rec := model.MessageRecord{Author: c.author, Body: model.ImageBody(url)}
	_, err := c.store.Append(p.ctx, p.channel.ID, rec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return
	}
	if err != nil {
		c.logger.Warn("image append failed", "channel", p.channel.ID, "url", url, "error", err)
		c.finishUpload(p, upload.PhaseError, &NetworkError{Op: "send image", Err: err})
		return
	}
	c.finishUpload(p, upload.PhaseDone, nil)
}

// finishUpload clears the pending upload. Callers hold c.mu.
func (c *Composer) finishUpload(p *pendingUpload, phase upload.Phase, err error) {
	p.status.Phase = phase
	last := p.status
	c.pending, c.last = nil, &last
	c.phase = phase
	if err != nil {
		c.record(CategoryUpload, err)
	}
}

// CancelActiveUpload stops the pending upload without sending anything. No
// upload event is applied after it returns.
func (c *Composer) CancelActiveUpload() {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return
	}
	c.pending, c.last = nil, nil
	c.phase = upload.PhaseIdle
	c.mu.Unlock()

	// Cancel waits for an in-progress observer call, which takes c.mu.
	p.session.Cancel()
	p.cancel()
}

func (c *Composer) ToggleEmojiPicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pickerOpen = !c.pickerOpen
}

// InsertEmoji appends :shortcode: to the draft, translates the result and
// closes the picker.
func (c *Composer) InsertEmoji(shortcode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	code := strings.Trim(shortcode, ":")
	c.draft = c.emoji.Translate(" " + c.draft + " :" + code + ": ")
	c.pickerOpen = false
	c.signalDraft()
}

// SetChannel switches the open channel. The typing entry moves with the
// draft; a running upload still posts to the channel it started in.
func (c *Composer) SetChannel(ch Channel) error {
	if err := channelstore.CheckChannel(ch.ID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if ch == c.channel {
		return nil
	}
	c.typing.DraftChanged(c.channel.ID, c.author.ID, c.author.Name, true)
	c.channel = ch
	c.signalDraft()
	return nil
}

// Close tears the composer down: the pending upload is cancelled, background
// work is stopped and every typing entry the composer set, in any channel, is
// removed before Close returns. Presence removal errors are returned.
func (c *Composer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	p := c.pending
	c.pending = nil
	if p != nil {
		c.phase = upload.PhaseIdle
	}
	c.mu.Unlock()

	if p != nil {
		p.session.Cancel()
		p.cancel()
	}
	c.cancel()

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		c.logger.Warn("composer close: background work still running", "error", ctx.Err())
	}

	err := c.typing.ClearAll(ctx)
	c.typing.Close()
	if err != nil {
		return fmt.Errorf("clear typing entries: %w", err)
	}
	return nil
}
