// Package typing turns draft edits into typing-presence writes.
package typing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultRefresh      = 5 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	queueSize           = 64
)

var ErrStopped = errors.New("typing signal stopped")

type entry struct {
	channelID string
	userID    string
}

type op struct {
	entry
	name   string
	active bool
	// all removes every entry set since the last successful remove.
	all bool
	// set only for synchronous writes
	result chan error
}

// Signal writes presence entries from draft transitions. Writes are applied
// in order by a single goroutine; fire-and-forget failures are logged and
// dropped.
type Signal struct {
	presence     channelstore.Presence
	logger       *slog.Logger
	refresh      time.Duration
	writeTimeout time.Duration

	ops  chan op
	quit chan struct{}
	done chan struct{}

	mu     sync.Mutex
	active map[entry]*rate.Limiter
}

type Option func(*Signal)

// WithRefresh sets how often an unchanged active entry is rewritten.
func WithRefresh(d time.Duration) Option {
	return func(s *Signal) { s.refresh = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Signal) { s.writeTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Signal) { s.logger = l }
}

func New(presence channelstore.Presence, opts ...Option) *Signal {
	s := &Signal{
		presence:     presence,
		logger:       logging.Discard(),
		refresh:      DefaultRefresh,
		writeTimeout: DefaultWriteTimeout,
		ops:          make(chan op, queueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		active:       make(map[entry]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "typing")
	go s.run()
	return s
}

func (s *Signal) run() {
	defer close(s.done)
	// Entries that may still exist in presence. Owned by this goroutine.
	written := make(map[entry]struct{})
	for {
		select {
		case o := <-s.ops:
			s.dispatch(o, written)
		case <-s.quit:
			// Drain what was queued before Close.
			for {
				select {
				case o := <-s.ops:
					s.dispatch(o, written)
				default:
					return
				}
			}
		}
	}
}

func (s *Signal) dispatch(o op, written map[entry]struct{}) {
	if !o.all {
		err := s.apply(o)
		switch {
		case o.active:
			written[o.entry] = struct{}{}
		case err == nil:
			delete(written, o.entry)
		}
		return
	}

	var errs []error
	for e := range written {
		if err := s.apply(op{entry: e}); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(written, e)
	}
	if o.result != nil {
		o.result <- errors.Join(errs...)
	}
}

func (s *Signal) apply(o op) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	var err error
	name := "remove"
	if o.active {
		name = "set"
		err = s.presence.Set(ctx, o.channelID, o.userID, o.name)
	} else {
		err = s.presence.Remove(ctx, o.channelID, o.userID)
	}
	metrics.PresenceWrites.WithLabelValues(name, metrics.Result(err)).Inc()

	if o.result != nil {
		o.result <- err
		return err
	}
	if err != nil {
		s.logger.Debug("presence write failed", "op", name, "channel", o.channelID, "user", o.userID, "error", err)
	}
	return err
}

func (s *Signal) enqueue(o op) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.ops <- o:
	case <-s.quit:
	default:
		// Queue full: presence is best-effort, drop rather than block input.
		s.logger.Debug("presence queue full, dropping write", "channel", o.channelID, "user", o.userID)
	}
}

// DraftChanged records that the user's draft in channelID became empty or
// non-empty. A non-empty draft sets the entry on the transition and then at
// most once per refresh interval.
func (s *Signal) DraftChanged(channelID, userID, displayName string, draftIsEmpty bool) {
	e := entry{channelID, userID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if draftIsEmpty {
		if _, ok := s.active[e]; ok {
			delete(s.active, e)
			s.enqueue(op{entry: e})
		}
		return
	}

	lim, ok := s.active[e]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.refresh), 1)
		s.active[e] = lim
	}
	if lim.Allow() {
		s.enqueue(op{entry: e, name: displayName, active: true})
	}
}

// Sent removes the entry after a message went out, whether or not the
// draft was already empty.
func (s *Signal) Sent(channelID, userID string) {
	e := entry{channelID, userID}
	s.mu.Lock()
	delete(s.active, e)
	s.enqueue(op{entry: e})
	s.mu.Unlock()
}

// Clear removes the entry and waits until it, and every write queued before
// it, has been applied. Unlike the other writes its failure is returned.
func (s *Signal) Clear(ctx context.Context, channelID, userID string) error {
	e := entry{channelID, userID}
	s.mu.Lock()
	delete(s.active, e)
	s.mu.Unlock()
	return s.sync(ctx, op{entry: e})
}

// ClearAll removes every entry this signal has set and not yet removed,
// including entries whose remove was dropped from a full queue. It waits
// like Clear and returns the joined failures.
func (s *Signal) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	clear(s.active)
	s.mu.Unlock()
	return s.sync(ctx, op{all: true})
}

func (s *Signal) sync(ctx context.Context, o op) error {
	select {
	case <-s.quit:
		return ErrStopped
	default:
	}
	o.result = make(chan error, 1)
	select {
	case s.ops <- o:
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.result:
		return err
	case <-s.done:
		select {
		case err := <-o.result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer after applying the writes already queued.
func (s *Signal) Close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}
