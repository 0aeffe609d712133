package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-composer/pkg/auth"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/metrics"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// typingTopic is the Redis pub/sub channel typing updates travel on between
// gateways.
const typingTopic = "typing-events"

const appendTimeout = 10 * time.Second

type outbound struct {
	channelID string
	data      []byte
}

type direct struct {
	client *Client
	data   []byte
}

type subscription struct {
	client    *Client
	channelID string
	on        bool
}

// Hub tracks connected clients and the channels they follow. The maps are
// owned by Run.
type Hub struct {
	clients     map[string]map[*Client]bool // channel_id -> clients
	userClients map[string]map[*Client]bool // user_id -> clients

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan outbound
	direct     chan direct
	done       chan struct{}

	store    channelstore.Store
	backend  string
	presence channelstore.Presence
	// rdb relays typing updates to other gateways; nil keeps them local.
	rdb *redis.Client
	// localFanout broadcasts accepted records from this gateway. It is off
	// when a log consumer delivers them instead.
	localFanout bool

	logger *slog.Logger
}

type HubConfig struct {
	Store       channelstore.Store
	Backend     string
	Presence    channelstore.Presence
	Redis       *redis.Client
	LocalFanout bool
	Logger      *slog.Logger
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		broadcast:   make(chan outbound, 256),
		direct:      make(chan direct, 256),
		done:        make(chan struct{}),
		store:       cfg.Store,
		backend:     cfg.Backend,
		presence:    cfg.Presence,
		rdb:         cfg.Redis,
		localFanout: cfg.LocalFanout,
		logger:      cfg.Logger.With("component", "hub"),
	}
}

func (h *Hub) join(client *Client, channelID string) {
	if h.clients[channelID] == nil {
		h.clients[channelID] = make(map[*Client]bool)
	}
	h.clients[channelID][client] = true
	client.channels[channelID] = true
}

func (h *Hub) leave(client *Client, channelID string) {
	if clients, ok := h.clients[channelID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, channelID)
		}
	}
	delete(client.channels, channelID)
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.userClients[client.userID][client]; !ok {
		return
	}
	for channelID := range client.channels {
		h.leave(client, channelID)
	}
	delete(h.userClients[client.userID], client)
	if len(h.userClients[client.userID]) == 0 {
		delete(h.userClients, client.userID)
	}
	close(client.send)
	metrics.GatewayConnections.Dec()
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("client send buffer full, disconnecting", "user_id", client.userID)
		h.drop(client)
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			if h.userClients[client.userID] == nil {
				h.userClients[client.userID] = make(map[*Client]bool)
			}
			h.userClients[client.userID][client] = true
			h.join(client, client.initial)
			metrics.GatewayConnections.Inc()
			h.logger.Info("client registered", "user_id", client.userID, "channel", client.initial)

		case client := <-h.unregister:
			h.drop(client)
			h.logger.Info("client unregistered", "user_id", client.userID)

		case s := <-h.subscribe:
			if _, ok := h.userClients[s.client.userID][s.client]; !ok {
				continue
			}
			if s.on {
				h.join(s.client, s.channelID)
			} else {
				h.leave(s.client, s.channelID)
			}

		case out := <-h.broadcast:
			for client := range h.clients[out.channelID] {
				h.deliver(client, out.data)
			}

		case d := <-h.direct:
			if _, ok := h.userClients[d.client.userID][d.client]; ok {
				h.deliver(d.client, d.data)
			}

		case <-ctx.Done():
			for _, clients := range h.userClients {
				for client := range clients {
					h.drop(client)
				}
			}
			return
		}
	}
}

func (h *Hub) fanout(out outbound) {
	select {
	case h.broadcast <- out:
	case <-h.done:
	}
}

func (h *Hub) reply(client *Client, f model.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal frame", "op", f.Op, "error", err)
		return
	}
	select {
	case h.direct <- direct{client: client, data: data}:
	case <-h.done:
	}
}

func (h *Hub) publish(channelID string, f model.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal frame", "op", f.Op, "error", err)
		return
	}
	h.fanout(outbound{channelID: channelID, data: data})
}

// handleAppend appends a client's record and answers with an ack or nack.
func (h *Hub) handleAppend(client *Client, f model.Frame) {
	nack := func(err error) {
		h.reply(client, model.Frame{Op: model.FrameNack, Ref: f.Ref, Error: err.Error()})
	}
	if f.Record == nil {
		nack(errors.New("append without record"))
		return
	}
	rec := *f.Record
	if rec.Author.ID != client.userID {
		nack(errors.New("author does not match token"))
		return
	}
	if !auth.CanAccess(client.userID, f.ChannelID) {
		nack(errors.New("not a member of this channel"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	ack, err := h.store.Append(ctx, f.ChannelID, rec)
	metrics.Appends.WithLabelValues(h.backend, metrics.Result(err)).Inc()
	if err != nil {
		h.logger.Warn("append failed", "channel", f.ChannelID, "user_id", client.userID, "error", err)
		nack(err)
		return
	}

	h.reply(client, model.Frame{Op: model.FrameAck, Ref: f.Ref, ID: ack.ID, Timestamp: ack.Timestamp})
	if h.localFanout {
		stamped := rec.Stamp(ack)
		h.publish(f.ChannelID, model.Frame{Op: model.FrameMessage, ChannelID: f.ChannelID, Record: &stamped})
	}
}

// handleTyping writes a presence entry and tells the channel about it.
func (h *Hub) handleTyping(ctx context.Context, client *Client, f model.Frame) error {
	if f.UserID != "" && f.UserID != client.userID {
		return errors.New("typing frame for another user")
	}
	if !auth.CanAccess(client.userID, f.ChannelID) {
		return errors.New("not a member of this channel")
	}
	name := f.Name
	if name == "" {
		name = client.name
	}

	active := f.Op == model.FrameTypingSet
	var err error
	if active {
		err = h.presence.Set(ctx, f.ChannelID, client.userID, name)
	} else {
		err = h.presence.Remove(ctx, f.ChannelID, client.userID)
	}
	metrics.PresenceWrites.WithLabelValues(string(f.Op), metrics.Result(err)).Inc()
	if err != nil {
		return err
	}

	update := model.Frame{Op: model.FrameTyping, ChannelID: f.ChannelID, UserID: client.userID, Name: name, Active: active}
	if h.rdb == nil {
		h.publish(f.ChannelID, update)
		return nil
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, typingTopic, data).Err()
}

// RelayTyping forwards typing updates published by any gateway to local
// clients.
func (h *Hub) RelayTyping(ctx context.Context) {
	sub := h.rdb.Subscribe(ctx, typingTopic)
	defer sub.Close()
	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var f model.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				h.logger.Warn("dropping malformed typing event", "error", err)
				continue
			}
			h.fanout(outbound{channelID: f.ChannelID, data: []byte(msg.Payload)})
		case <-ctx.Done():
			return
		}
	}
}

// Consume fans records accepted by any gateway out to local clients. Each
// gateway reads the topic in its own consumer group.
func (h *Hub) Consume(ctx context.Context, brokers []string, topic string) {
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + time.Now().Format("20060102150405.000000000"),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
	defer consumer.Close()

	for {
		m, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Error("gateway consumer error", "error", err)
			}
			return
		}
		ev, err := channelstore.DecodeEvent(m)
		if err != nil {
			h.logger.Warn("failed to decode log event", "offset", m.Offset, "error", err)
			continue
		}
		rec := ev.Record
		h.publish(ev.ChannelID, model.Frame{Op: model.FrameMessage, ChannelID: ev.ChannelID, Record: &rec})
	}
}
