package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	once   sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Terminal() {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *recorder) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func jpeg(size int) Metadata {
	return Metadata{Name: "cat.jpg", ContentType: "image/jpeg", Size: int64(size)}
}

func TestSession_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	backend := NewAferoBackend(fs, "http://media.local/media")
	data := bytes.Repeat([]byte("x"), 10_000)

	rec := newRecorder()
	s := Start(context.Background(), backend, bytes.NewReader(data), jpeg(len(data)), "chat/public/a.jpg", rec.observe, WithChunkSize(1024))
	events := rec.wait(t)
	<-s.Done()

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventSucceeded, last.Kind)
	assert.Equal(t, "http://media.local/media/chat/public/a.jpg", last.URL)
	assert.Equal(t, PhaseDone, s.Phase())
	assert.Equal(t, last.URL, s.URL())

	prevBytes, prevPct := int64(0), 0
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, EventProgress, ev.Kind)
		assert.GreaterOrEqual(t, ev.Transferred, prevBytes)
		assert.LessOrEqual(t, ev.Transferred, ev.Total)
		assert.GreaterOrEqual(t, ev.Percent(), prevPct)
		assert.LessOrEqual(t, ev.Percent(), 100)
		prevBytes, prevPct = ev.Transferred, ev.Percent()
	}
	assert.Equal(t, 100, prevPct)

	stored, err := afero.ReadFile(fs, "chat/public/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	exists, _ := afero.Exists(fs, "chat/public/a.jpg.part")
	assert.False(t, exists)

	// Cancelling a finished session is a no-op.
	s.Cancel()
	s.Cancel()
	assert.Equal(t, PhaseDone, s.Phase())
}

// failingBackend fails writes after a number of successful ones.
type failingBackend struct {
	*AferoBackend
	mu     sync.Mutex
	writes int
	failAt int
}

func (b *failingBackend) Write(ctx context.Context, p string, offset int64, chunk []byte) error {
	b.mu.Lock()
	b.writes++
	n := b.writes
	b.mu.Unlock()
	if n >= b.failAt {
		return errors.New("connection reset")
	}
	return b.AferoBackend.Write(ctx, p, offset, chunk)
}

func TestSession_FailureThenResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	base := NewAferoBackend(fs, "http://m")
	data := []byte(strings.Repeat("abcdefghij", 100))

	rec := newRecorder()
	s := Start(context.Background(), &failingBackend{AferoBackend: base, failAt: 3}, bytes.NewReader(data), jpeg(len(data)), "p/x.jpg", rec.observe, WithChunkSize(100))
	events := rec.wait(t)
	<-s.Done()

	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
	assert.ErrorContains(t, last.Err, "connection reset")
	assert.Equal(t, PhaseError, s.Phase())
	assert.Equal(t, int64(200), last.Transferred)

	offset, err := base.Offset(context.Background(), "p/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(200), offset, "partial data is kept for a retry")

	rec = newRecorder()
	s = Start(context.Background(), base, bytes.NewReader(data), jpeg(len(data)), "p/x.jpg", rec.observe, WithChunkSize(100))
	events = rec.wait(t)

	assert.Equal(t, int64(200), events[0].Transferred, "resumed transfer starts at the stored offset")
	assert.Equal(t, EventSucceeded, events[len(events)-1].Kind)
	stored, err := afero.ReadFile(fs, "p/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

// gateBackend blocks every write until released.
type gateBackend struct {
	*AferoBackend
	entered chan struct{}
	release chan struct{}
	aborted chan string
}

func (b *gateBackend) Write(ctx context.Context, p string, offset int64, chunk []byte) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.AferoBackend.Write(ctx, p, offset, chunk)
}

func (b *gateBackend) Abort(ctx context.Context, p string) error {
	b.aborted <- p
	return b.AferoBackend.Abort(ctx, p)
}

func TestSession_CancelStopsEvents(t *testing.T) {
	backend := &gateBackend{
		AferoBackend: NewAferoBackend(afero.NewMemMapFs(), "http://m"),
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
		aborted:      make(chan string, 1),
	}
	data := bytes.Repeat([]byte("y"), 4096)

	var mu sync.Mutex
	var events []Event
	s := Start(context.Background(), backend, bytes.NewReader(data), jpeg(len(data)), "c/y.jpg", func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}, WithChunkSize(1024))

	<-backend.entered
	s.Cancel()
	s.Cancel()
	close(backend.release)

	select {
	case p := <-backend.aborted:
		assert.Equal(t, "c/y.jpg", p)
	case <-time.After(5 * time.Second):
		t.Fatal("partial upload not aborted")
	}
	<-s.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, events, "no events after cancellation")
	assert.Equal(t, PhaseCancelled, s.Phase())
}

func TestSession_UnknownSize(t *testing.T) {
	backend := NewAferoBackend(afero.NewMemMapFs(), "http://m")
	rec := newRecorder()
	Start(context.Background(), backend, strings.NewReader("hello"), Metadata{ContentType: "image/png"}, "u/z.png", rec.observe)
	events := rec.wait(t)

	for _, ev := range events {
		assert.LessOrEqual(t, ev.Transferred, ev.Total)
	}
	assert.Equal(t, EventSucceeded, events[len(events)-1].Kind)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 0))
	assert.Equal(t, 0, Percent(5, 0))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 100, Percent(3, 3))
	assert.Equal(t, 100, Percent(9, 3))
}
