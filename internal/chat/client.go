package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8 << 10             // A 1000 code point body plus envelope fits comfortably.
)

// Client is one websocket session. The hub never closes send; done signals shutdown instead,
// so a late broadcast or reply can never hit a closed channel.
type Client struct {
	ID string

	hub     *Hub
	service *Service
	conn    *websocket.Conn
	send    chan []byte
	log     zerolog.Logger

	userID    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, service *Service, conn *websocket.Conn, queueSize int, log zerolog.Logger) *Client {
	if queueSize <= 0 {
		queueSize = 256
	}
	id := uuid.NewString()
	return &Client{
		ID:      id,
		hub:     hub,
		service: service,
		conn:    conn,
		send:    make(chan []byte, queueSize),
		log:     log.With().Str("session_id", id).Logger(),
		done:    make(chan struct{}),
	}
}

// UserID is the id the session identified as through checkUser, 0 before that.
func (c *Client) UserID() int64 { return c.userID.Load() }

func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames and dispatches each one before reading the next,
// so a session's own events are applied in the order it sent them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("session.read.failed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.push(EventError, msgInvalidPayload)
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame for this session only.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.log.Warn().Msg("session.queue.full")
		c.Close()
	}
}

// push sends an unsolicited event, e.g. an error notice, to this session.
func (c *Client) push(event string, data any) {
	frame, err := encodeFrame(event, nil, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("frame.encode.failed")
		return
	}
	c.enqueue(frame)
}

// fail reports a failed request exactly once: in the ack when the client asked for one,
// as an error event otherwise.
func (c *Client) fail(env Envelope, msg string) {
	if env.Ack != nil {
		c.reply(env, statusReply{Error: msg})
		return
	}
	c.push(EventError, msg)
}

// reply answers an inbound envelope that asked for an ack. Without an ack id there is nobody to answer.
func (c *Client) reply(env Envelope, data any) {
	if env.Ack == nil {
		return
	}
	frame, err := encodeFrame(EventAck, env.Ack, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", env.Event).Msg("frame.encode.failed")
		return
	}
	c.enqueue(frame)
}
