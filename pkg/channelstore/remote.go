package channelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/dupahar-composer/pkg/model"
)

const writeWait = 10 * time.Second

// ErrRejected wraps a nack from the gateway.
var ErrRejected = errors.New("rejected by gateway")

// Remote is a Store and Presence backed by a gateway websocket connection.
// Appends are correlated with their ack by a per-request ref.
type Remote struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan model.Frame
	handler func(model.Frame)
	err     error

	done chan struct{}
}

// DialRemote connects to the gateway at addr (host:port) with a bearer token
// and joins channelID.
func DialRemote(ctx context.Context, addr, token, channelID string, logger *slog.Logger) (*Remote, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	q := u.Query()
	q.Set("channel", channelID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway %s: %w (status %s)", addr, err, resp.Status)
		}
		return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
	}

	r := &Remote{
		conn:    conn,
		logger:  logger.With("component", "remote-store"),
		pending: make(map[string]chan model.Frame),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// OnFrame registers fn for frames not answering a request: broadcast
// messages and typing updates. fn runs on the read goroutine.
func (r *Remote) OnFrame(fn func(model.Frame)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *Remote) readLoop() {
	defer r.shutdown(ErrClosed)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("gateway connection lost", "error", err)
			}
			r.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		// The gateway may batch several frames into one websocket message.
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var f model.Frame
			if err := dec.Decode(&f); err != nil {
				if err != io.EOF {
					r.logger.Warn("dropping malformed frame", "error", err)
				}
				break
			}
			r.dispatch(f)
		}
	}
}

func (r *Remote) dispatch(f model.Frame) {
	r.mu.Lock()
	if f.Op == model.FrameAck || f.Op == model.FrameNack {
		ch, ok := r.pending[f.Ref]
		delete(r.pending, f.Ref)
		r.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}
	fn := r.handler
	r.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (r *Remote) shutdown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = err
	close(r.done)
}

func (r *Remote) send(f model.Frame) error {
	select {
	case <-r.done:
		return r.Err()
	default:
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Op, err)
	}
	return nil
}

func (r *Remote) Append(ctx context.Context, channelID string, rec model.MessageRecord) (model.Ack, error) {
	if err := CheckAppend(channelID, rec); err != nil {
		return model.Ack{}, err
	}

	ref := uuid.NewString()
	reply := make(chan model.Frame, 1)
	r.mu.Lock()
	r.pending[ref] = reply
	r.mu.Unlock()
	forget := func() {
		r.mu.Lock()
		delete(r.pending, ref)
		r.mu.Unlock()
	}

	if err := r.send(model.Frame{Op: model.FrameAppend, Ref: ref, ChannelID: channelID, Record: &rec}); err != nil {
		forget()
		return model.Ack{}, err
	}

	select {
	case f := <-reply:
		if f.Op == model.FrameNack {
			return model.Ack{}, fmt.Errorf("%w: %s", ErrRejected, f.Error)
		}
		return model.Ack{ID: f.ID, Timestamp: f.Timestamp}, nil
	case <-ctx.Done():
		forget()
		return model.Ack{}, ctx.Err()
	case <-r.done:
		forget()
		return model.Ack{}, r.Err()
	}
}

func (r *Remote) Set(ctx context.Context, channelID, userID, name string) error {
	return r.send(model.Frame{Op: model.FrameTypingSet, ChannelID: channelID, UserID: userID, Name: name})
}

func (r *Remote) Remove(ctx context.Context, channelID, userID string) error {
	return r.send(model.Frame{Op: model.FrameTypingRemove, ChannelID: channelID, UserID: userID})
}

// Subscribe asks the gateway to deliver channelID's broadcasts too.
func (r *Remote) Subscribe(channelID string) error {
	return r.send(model.Frame{Op: model.FrameSubscribe, ChannelID: channelID})
}

func (r *Remote) Unsubscribe(channelID string) error {
	return r.send(model.Frame{Op: model.FrameUnsubscribe, ChannelID: channelID})
}

// Done is closed once the connection is gone.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close sends a close frame and waits briefly for the gateway to hang up.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	err := r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	r.writeMu.Unlock()

	select {
	case <-r.done:
	case <-time.After(time.Second):
	}
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
