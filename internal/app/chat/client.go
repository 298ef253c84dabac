/*
Package chat implements the private-messaging gateway.

This file defines Client, one authenticated websocket connection. A Client owns
two goroutines: ReadPump hands inbound frames to the gateway one at a time, so
a connection's events are processed in the order received, and WritePump is the
only writer on the socket, draining the buffered send queue and keeping the
heartbeat.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"estatechat/internal/app/user"
	"estatechat/internal/pkg/logx"
)

const (
	// timeout for a single write to the socket.
	writeWait = 10 * time.Second

	// how long the server waits for a pong before considering the peer gone.
	pongWait = 60 * time.Second

	// ping interval; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maximum inbound frame size in bytes.
	maxFrameSize = 16384

	// outbound queue length per connection.
	sendQueueSize = 256
)

var (
	errClientClosed  = errors.New("client connection closed")
	errSendQueueFull = errors.New("client send queue full")
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Client is one live websocket connection bound to an identity.
type Client struct {
	// id distinguishes this connection from the user's other connections.
	id string

	// underlying websocket connection.
	conn *websocket.Conn

	// identity verified during the handshake.
	identity user.Identity

	// send queues encoded frames for WritePump. It is never closed;
	// done signals shutdown instead.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// ctx scopes store calls made on behalf of this connection.
	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection for an authenticated identity.
func NewClient(conn *websocket.Conn, identity user.Identity) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		id:       id,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger: logx.Logger().With().
			Str("conn_id", id).
			Str("user_id", identity.ID).
			Logger(),
	}
	c.setState(StateAuthenticated)

	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.identity.ID }

func (c *Client) Identity() user.Identity { return c.identity }

// State returns the current lifecycle stage.
func (c *Client) State() State { return State(c.state.Load()) }

// setState moves the connection forward to s. Stages never go back, so a
// connection closed early stays CLOSED.
func (c *Client) setState(s State) {
	for {
		prev := State(c.state.Load())
		if prev >= s {
			return
		}
		if c.state.CompareAndSwap(int32(prev), int32(s)) {
			c.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("Connection state changed")
			return
		}
	}
}

// Send queues frame for delivery without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return errSendQueueFull
	}
}

// Close stops the connection. WritePump flushes what is queued, sends a close
// frame and closes the socket, which in turn ends ReadPump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.cancel()
		close(c.done)
	})
}

// ReadPump reads frames until the socket fails or closes, handing each one to
// handle before reading the next.
func (c *Client) ReadPump(handle func(ctx context.Context, frame []byte)) {
	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		handle(c.ctx, frame)
	}
}

// WritePump writes queued frames and pings until the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Socket close after write pump exit")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "connection closed"))
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame and reports whether the pump should keep going.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Socket write failed")
		}
		return false
	}

	return true
}
