package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/dupahar-composer/pkg/auth"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	presenceTimeout = 3 * time.Second
)

var newline = []byte{'\n'}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	userID string
	name   string

	// initial is the channel named in the connect URL.
	initial string
	// channels is owned by the hub's Run loop.
	channels map[string]bool
	// typing holds the channels this connection marked as typing; owned by
	// readPump.
	typing map[string]bool

	logger *slog.Logger
}

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.clearTyping()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		dec := json.NewDecoder(r)
		for {
			var f model.Frame
			if err := dec.Decode(&f); err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug("dropping malformed frame", "error", err)
				}
				break
			}
			c.handle(f)
		}
	}
}

func (c *Client) handle(f model.Frame) {
	switch f.Op {
	case model.FrameAppend:
		go c.hub.handleAppend(c, f)

	case model.FrameTypingSet, model.FrameTypingRemove:
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		err := c.hub.handleTyping(ctx, c, f)
		cancel()
		if err != nil {
			c.logger.Debug("typing update failed", "channel", f.ChannelID, "error", err)
			c.nack(f, err)
			return
		}
		if f.Op == model.FrameTypingSet {
			c.typing[f.ChannelID] = true
		} else {
			delete(c.typing, f.ChannelID)
		}

	case model.FrameSubscribe, model.FrameUnsubscribe:
		if err := channelstore.CheckChannel(f.ChannelID); err != nil {
			c.nack(f, err)
			return
		}
		if !auth.CanAccess(c.userID, f.ChannelID) {
			c.nack(f, errors.New("not a member of this channel"))
			return
		}
		select {
		case c.hub.subscribe <- subscription{client: c, channelID: f.ChannelID, on: f.Op == model.FrameSubscribe}:
		case <-c.hub.done:
		}

	default:
		c.nack(f, fmt.Errorf("unknown op %q", f.Op))
	}
}

// nack answers a failed request. Frames without a ref get no answer.
func (c *Client) nack(f model.Frame, err error) {
	if f.Ref == "" {
		return
	}
	c.hub.reply(c, model.Frame{Op: model.FrameNack, Ref: f.Ref, Error: err.Error()})
}

// clearTyping removes the entries this connection left behind.
func (c *Client) clearTyping() {
	for channelID := range c.typing {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		err := c.hub.handleTyping(ctx, c, model.Frame{Op: model.FrameTypingRemove, ChannelID: channelID})
		cancel()
		if err != nil {
			c.logger.Warn("failed to clear typing entry", "channel", channelID, "error", err)
		}
	}
	clear(c.typing)
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs handles websocket requests from the peer.
func serveWs(hub *Hub, issuer *auth.Issuer, w http.ResponseWriter, r *http.Request) {
	claims, err := issuer.Authenticate(r)
	if err != nil {
		hub.logger.Info("unauthorized websocket request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		channelID = "general"
	}
	if err := channelstore.CheckChannel(channelID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !auth.CanAccess(claims.UserID, channelID) {
		http.Error(w, "Unauthorized to join this DM", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   claims.UserID,
		name:     name,
		initial:  channelID,
		channels: make(map[string]bool),
		typing:   make(map[string]bool),
		logger:   hub.logger.With("user_id", claims.UserID),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
