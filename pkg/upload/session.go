package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/metrics"
)

const DefaultChunkSize = 256 << 10

// Phase is where a session is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = ""
	PhaseUploading Phase = "uploading"
	PhaseError     Phase = "error"
	PhaseDone      Phase = "done"
	PhaseCancelled Phase = "cancelled"
)

type EventKind int

const (
	EventProgress EventKind = iota
	EventSucceeded
	EventFailed
)

// Event is delivered to a session's observer.
type Event struct {
	Kind        EventKind
	Transferred int64
	Total       int64
	URL         string
	Err         error
}

func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}

// Percent is round(transferred/total*100) clamped to [0, 100].
func (e Event) Percent() int {
	return Percent(e.Transferred, e.Total)
}

func Percent(transferred, total int64) int {
	if total <= 0 || transferred <= 0 {
		return 0
	}
	p := int(math.Round(float64(transferred) / float64(total) * 100))
	return min(max(p, 0), 100)
}

// Observer receives session events on the session's goroutine. It must not
// call Cancel on the same session.
type Observer func(Event)

type Option func(*Session)

func WithChunkSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// Session is one resumable transfer of a file to a backend path.
type Session struct {
	id        string
	path      string
	backend   Backend
	meta      Metadata
	file      io.Reader
	observer  Observer
	chunkSize int
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// emitMu serializes observer calls with Cancel, so nothing is delivered
	// once Cancel has returned.
	emitMu  sync.Mutex
	stopped bool

	mu          sync.Mutex
	phase       Phase
	transferred int64
	total       int64
	url         string
	err         error
}

// Start begins transferring file to path in a new goroutine. When file is an
// io.Seeker and the backend already holds part of path, the transfer resumes
// after the stored bytes.
func Start(ctx context.Context, backend Backend, file io.Reader, meta Metadata, path string, observer Observer, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		path:      path,
		backend:   backend,
		meta:      meta,
		file:      file,
		observer:  observer,
		chunkSize: DefaultChunkSize,
		logger:    logging.Discard(),
		cancel:    cancel,
		done:      make(chan struct{}),
		phase:     PhaseUploading,
		total:     meta.Size,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("upload_id", s.id, "path", path)
	go s.run(ctx)
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Path() string { return s.path }

// Done is closed when the transfer goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Progress() (transferred, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred, s.total
}

// URL is set once the session succeeded.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops the transfer and drops the partial object. It is idempotent
// and a no-op once the session has reached a terminal event.
func (s *Session) Cancel() {
	s.emitMu.Lock()
	if s.stopped {
		s.emitMu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Lock()
	s.phase = PhaseCancelled
	s.mu.Unlock()
	s.emitMu.Unlock()

	s.cancel()
	metrics.Uploads.WithLabelValues(string(PhaseCancelled)).Inc()
	s.logger.Info("upload cancelled")
}

func (s *Session) emit(ev Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.stopped {
		return false
	}

	s.mu.Lock()
	s.transferred, s.total = ev.Transferred, ev.Total
	switch ev.Kind {
	case EventSucceeded:
		s.phase, s.url = PhaseDone, ev.URL
	case EventFailed:
		s.phase, s.err = PhaseError, ev.Err
	}
	s.mu.Unlock()

	if ev.Terminal() {
		s.stopped = true
		outcome := PhaseDone
		if ev.Kind == EventFailed {
			outcome = PhaseError
		}
		metrics.Uploads.WithLabelValues(string(outcome)).Inc()
	}
	if s.observer != nil {
		s.observer(ev)
	}
	return true
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	transferred, err := s.transfer(ctx)
	total := max(s.meta.Size, transferred)

	if ctx.Err() != nil && s.Phase() == PhaseCancelled {
		abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.backend.Abort(abortCtx, s.path); err != nil {
			s.logger.Warn("failed to drop partial upload", "error", err)
		}
		return
	}
	if err != nil {
		s.logger.Warn("upload failed", "transferred", transferred, "error", err)
		s.emit(Event{Kind: EventFailed, Transferred: transferred, Total: total, Err: err})
		return
	}

	if err := s.backend.Commit(ctx, s.path, s.meta); err != nil {
		s.emit(Event{Kind: EventFailed, Transferred: transferred, Total: total, Err: fmt.Errorf("commit upload: %w", err)})
		return
	}
	url, err := s.backend.DownloadURL(ctx, s.path)
	if err != nil {
		s.emit(Event{Kind: EventFailed, Transferred: transferred, Total: total, Err: fmt.Errorf("resolve download url: %w", err)})
		return
	}
	s.logger.Info("upload finished", "bytes", transferred)
	s.emit(Event{Kind: EventSucceeded, Transferred: transferred, Total: total, URL: url})
}

// transfer copies the file chunk by chunk and returns the number of bytes
// the backend holds afterwards.
func (s *Session) transfer(ctx context.Context) (int64, error) {
	offset := s.resumeOffset(ctx)
	if offset > 0 {
		s.emit(Event{Kind: EventProgress, Transferred: offset, Total: max(s.meta.Size, offset)})
	}

	buf := make([]byte, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}
		n, rerr := io.ReadFull(s.file, buf)
		if n > 0 {
			if err := s.backend.Write(ctx, s.path, offset, buf[:n]); err != nil {
				return offset, fmt.Errorf("write chunk at %d: %w", offset, err)
			}
			offset += int64(n)
			metrics.UploadBytes.Add(float64(n))
			s.emit(Event{Kind: EventProgress, Transferred: offset, Total: max(s.meta.Size, offset)})
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return offset, nil
		default:
			return offset, fmt.Errorf("read file: %w", rerr)
		}
	}
}

func (s *Session) resumeOffset(ctx context.Context) int64 {
	seeker, ok := s.file.(io.Seeker)
	if !ok {
		return 0
	}
	offset, err := s.backend.Offset(ctx, s.path)
	if err != nil || offset <= 0 {
		return 0
	}
	if s.meta.Size > 0 && offset > s.meta.Size {
		// Stale partial object larger than the file; start over.
		if err := s.backend.Abort(ctx, s.path); err != nil {
			s.logger.Warn("failed to drop stale partial upload", "error", err)
		}
		return 0
	}
	if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
		if err := s.backend.Abort(ctx, s.path); err != nil {
			s.logger.Warn("failed to drop partial upload", "error", err)
		}
		return 0
	}
	s.logger.Info("resuming upload", "offset", offset)
	return offset
}
