package typing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	op      string
	channel string
	user    string
	name    string
}

// recordingPresence logs every write it receives. With gate set, writes
// block until it is closed; entered receives one value per blocked write.
type recordingPresence struct {
	mu     sync.Mutex
	writes []write
	fail   error

	gate    chan struct{}
	entered chan struct{}
}

func (p *recordingPresence) hold() {
	if p.gate == nil {
		return
	}
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.gate
}

func (p *recordingPresence) Set(ctx context.Context, channelID, userID, name string) error {
	p.hold()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, write{"set", channelID, userID, name})
	return p.fail
}

func (p *recordingPresence) Remove(ctx context.Context, channelID, userID string) error {
	p.hold()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, write{"remove", channelID, userID, ""})
	return p.fail
}

// live replays the writes into the set of entries left in presence.
func (p *recordingPresence) live() map[string]bool {
	out := make(map[string]bool)
	for _, w := range p.snapshot() {
		key := w.channel + "/" + w.user
		if w.op == "set" {
			out[key] = true
		} else {
			delete(out, key)
		}
	}
	return out
}

func (p *recordingPresence) snapshot() []write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]write(nil), p.writes...)
}

func TestSignal_WritesOnTransitions(t *testing.T) {
	p := &recordingPresence{}
	s := New(p, WithRefresh(time.Hour))
	ctx := context.Background()

	s.DraftChanged("general", "u1", "Ann", false)
	s.DraftChanged("general", "u1", "Ann", false)
	s.DraftChanged("general", "u1", "Ann", false)
	s.DraftChanged("general", "u1", "Ann", true)
	s.DraftChanged("general", "u1", "Ann", true)
	require.NoError(t, s.Clear(ctx, "general", "u1"))

	assert.Equal(t, []write{
		{"set", "general", "u1", "Ann"},
		{"remove", "general", "u1", ""},
		{"remove", "general", "u1", ""},
	}, p.snapshot())
	s.Close()
}

func TestSignal_Refresh(t *testing.T) {
	p := &recordingPresence{}
	s := New(p, WithRefresh(20*time.Millisecond))
	defer s.Close()

	s.DraftChanged("c", "u", "U", false)
	time.Sleep(50 * time.Millisecond)
	s.DraftChanged("c", "u", "U", false)
	require.NoError(t, s.Clear(context.Background(), "c", "u"))

	sets := 0
	for _, w := range p.snapshot() {
		if w.op == "set" {
			sets++
		}
	}
	assert.Equal(t, 2, sets, "an active entry is rewritten after the refresh interval")
}

func TestSignal_SentAlwaysRemoves(t *testing.T) {
	p := &recordingPresence{}
	s := New(p)
	defer s.Close()

	s.Sent("c", "u")
	require.NoError(t, s.Clear(context.Background(), "c", "u"))
	assert.Equal(t, []write{{"remove", "c", "u", ""}, {"remove", "c", "u", ""}}, p.snapshot())

	// A fresh draft after a send is a new transition.
	s.DraftChanged("c", "u", "U", false)
	s.Sent("c", "u")
	s.DraftChanged("c", "u", "U", false)
	require.NoError(t, s.Clear(context.Background(), "c", "u"))

	got := p.snapshot()[2:]
	assert.Equal(t, []string{"set", "remove", "set", "remove"}, ops(got))
}

func TestSignal_ChannelsAreIndependent(t *testing.T) {
	p := &recordingPresence{}
	s := New(p, WithRefresh(time.Hour))
	defer s.Close()

	s.DraftChanged("a", "u", "U", false)
	s.DraftChanged("b", "u", "U", false)
	s.DraftChanged("a", "u", "U", true)
	require.NoError(t, s.Clear(context.Background(), "b", "u"))

	assert.Equal(t, []write{
		{"set", "a", "u", "U"},
		{"set", "b", "u", "U"},
		{"remove", "a", "u", ""},
		{"remove", "b", "u", ""},
	}, p.snapshot())
}

func TestSignal_FailuresAreSwallowedExceptClear(t *testing.T) {
	boom := errors.New("unreachable")
	p := &recordingPresence{fail: boom}
	s := New(p)
	defer s.Close()

	s.DraftChanged("c", "u", "U", false)
	s.DraftChanged("c", "u", "U", true)
	assert.ErrorIs(t, s.Clear(context.Background(), "c", "u"), boom)
	assert.Len(t, p.snapshot(), 3)
}

func TestSignal_ClearAllRemovesDroppedRemoves(t *testing.T) {
	p := &recordingPresence{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := New(p, WithRefresh(time.Hour))
	defer s.Close()

	s.DraftChanged("a", "u", "U", false)
	<-p.entered
	// The writer is stuck on the first set; fill the queue behind it.
	for i := 0; i < queueSize; i++ {
		s.DraftChanged(fmt.Sprintf("x%d", i), "u", "U", false)
	}
	s.DraftChanged("a", "u", "U", true)
	close(p.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.ClearAll(ctx))
	assert.Empty(t, p.live(), "no entry survives ClearAll")

	n := len(p.snapshot())
	require.NoError(t, s.ClearAll(ctx))
	assert.Len(t, p.snapshot(), n, "removed entries are not removed again")
}

func TestSignal_ClearAllReturnsFailures(t *testing.T) {
	boom := errors.New("unreachable")
	p := &recordingPresence{}
	s := New(p, WithRefresh(time.Hour))
	defer s.Close()

	s.DraftChanged("a", "u", "U", false)
	s.DraftChanged("b", "u", "U", false)
	require.NoError(t, s.Clear(context.Background(), "a", "u"))

	p.mu.Lock()
	p.fail = boom
	p.mu.Unlock()
	assert.ErrorIs(t, s.ClearAll(context.Background()), boom)

	p.mu.Lock()
	p.fail = nil
	p.mu.Unlock()
	require.NoError(t, s.ClearAll(context.Background()))
	assert.Empty(t, p.live())
}

func TestSignal_Close(t *testing.T) {
	p := &recordingPresence{}
	s := New(p)

	s.DraftChanged("c", "u", "U", false)
	s.Close()
	s.Close()

	assert.Equal(t, []string{"set"}, ops(p.snapshot()), "queued writes are flushed on close")
	assert.ErrorIs(t, s.Clear(context.Background(), "c", "u"), ErrStopped)
	assert.ErrorIs(t, s.ClearAll(context.Background()), ErrStopped)

	s.DraftChanged("c", "u", "U", true)
	assert.Len(t, p.snapshot(), 1)
}

func ops(ws []write) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.op
	}
	return out
}
