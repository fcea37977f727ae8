package chat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-dm/internal/metrics"
)

var ErrHubClosed = errors.New("hub closed")

// Hub owns the set of connected sessions on this instance and fans events out to them.
// Only the Run goroutine touches clients.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan BroadcastMessage // Redis or local Publish -> sessions
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// nil runs the hub in single-instance mode.
	redis   *redis.Client
	channel string

	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(redisClient *redis.Client, channel string, log zerolog.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		redis:      redisClient,
		channel:    channel,
		log:        log,
		metrics:    m,
	}
}

// Run serves registrations and fan-out until ctx ends, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.metrics.SessionsActive.Set(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.metrics.SessionsActive.Set(float64(len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.metrics.SessionsActive.Set(float64(len(h.clients)))
			}

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg BroadcastMessage) {
	for client := range h.clients {
		if len(msg.Targets) > 0 && !slices.Contains(msg.Targets, client.UserID()) {
			continue
		}
		select {
		case client.send <- msg.Payload:
		default:
			// Slow consumer: drop the session rather than stall everyone else.
			delete(h.clients, client)
			client.Close()
			h.metrics.SessionsDroppedTotal.Inc()
			h.metrics.SessionsActive.Set(float64(len(h.clients)))
			h.log.Warn().Str("session_id", client.ID).Msg("session.dropped")
		}
	}
}

func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish implements Broadcaster. With Redis configured the event goes through the shared
// channel so every instance delivers it; otherwise it is fanned out locally.
func (h *Hub) Publish(ctx context.Context, ev Event, targets []int64) error {
	payload, err := encodeFrame(ev.EventName(), nil, ev)
	if err != nil {
		return err
	}
	msg := BroadcastMessage{Targets: targets, Payload: payload}

	if h.redis == nil {
		return h.deliver(ctx, msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, h.channel, data).Err()
}

func (h *Hub) deliver(ctx context.Context, msg BroadcastMessage) error {
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeToRedis relays events published by any instance to the local sessions.
// It returns once the subscription fails to start or ctx ends.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	h.log.Info().Str("channel", h.channel).Msg("redis.subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg BroadcastMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				h.log.Warn().Err(err).Msg("redis.payload.invalid")
				continue
			}
			if err := h.deliver(ctx, msg); err != nil {
				return nil
			}
		}
	}
}
