// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, frame dispatch, and lifecycle control for each
// connection.
package server

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/relay"
)

// Client represents one WebSocket connection. It is the relay.Handle the
// relay core binds identities to and forwards messages through.
type Client struct {
	id          string
	conn        *websocket.Conn
	hub         *Hub
	addr        string
	opts        Options
	rateLimiter *tokenBucket
	log         *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
}

// NewClient creates a new Client for conn. The send channel is buffered
// according to the hub's options.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		opts:        opts,
		rateLimiter: newTokenBucket(opts.RateLimit, time.Now),
		log:         hub.log.With(zap.String("conn", id), zap.String("addr", addr)),
		send:        make(chan []byte, opts.SendBufferSize),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues payload for the write pump without blocking. A client whose
// buffer is full is considered too slow and gets disconnected.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("send buffer full; disconnecting client")
		go c.closeConnection()
		return ErrSendBufferFull
	}
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// closeSend marks the client closed and closes its send channel, which makes
// the write pump send a close frame and exit.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read error according to its kind. Every read
// error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("max_bytes", c.opts.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// notify sends an error frame to this client. Failures are ignored: the
// client is going away anyway.
func (c *Client) notify(code, message string) {
	frame, err := relay.EncodeNotice(code, message)
	if err != nil {
		c.log.Error("encode notice", zap.Error(err))
		return
	}
	_ = c.Send(frame)
}

// handleFrame decodes one inbound frame and dispatches it to the lifecycle
// manager.
func (c *Client) handleFrame(raw []byte) {
	var frame relay.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Debug("malformed frame", zap.Error(err))
		c.notify(relay.CodeMalformedFrame, "frame is not a JSON object with an event field")
		return
	}

	ctx := c.hub.ctx
	switch frame.Event {
	case relay.EventSetUserID:
		identity, err := relay.DecodeIdentity(frame.Data)
		if err == nil {
			err = c.hub.lifecycle.OnIdentityAnnounced(ctx, c, identity)
		}
		if err != nil {
			c.log.Debug("identity announcement rejected", zap.Error(err))
			c.notify(relay.CodeInvalidIdentity, err.Error())
		}

	case relay.EventMessage:
		var evt relay.MessageEvent
		if err := json.Unmarshal(frame.Data, &evt); err != nil {
			c.notify(relay.CodeInvalidMessage, "message data must be an object")
			return
		}
		if _, err := c.hub.lifecycle.OnMessage(ctx, c, evt); err != nil {
			c.log.Debug("message rejected", zap.Error(err))
			c.notify(relay.CodeInvalidMessage, err.Error())
		}

	default:
		c.notify(relay.CodeUnknownEvent, "unknown event "+frame.Event)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.rateLimiter.Allow() {
			c.log.Info("rate limit exceeded; discarding frame",
				zap.Int("burst", c.opts.RateLimit.Burst),
				zap.Duration("interval", c.opts.RateLimit.RefillInterval))
			continue
		}

		c.handleFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		if !ok {
			return c.writeCloseMessage()
		}
		return c.writeFrame(frame) && c.writeQueuedFrames()
	case <-ticker.C:
		return c.writePing()
	}
}

// closeConnection closes the underlying connection once.
func (c *Client) closeConnection() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("close connection", zap.Error(err))
		}
	})
}

func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("write close message", zap.Error(err))
	}
	return false
}

// writeFrame writes one frame as its own text message.
func (c *Client) writeFrame(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		c.log.Warn("set write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write frame", zap.Error(err))
		}
		return false
	}
	return true
}

// writeQueuedFrames drains frames that queued up while the last write was in
// progress.
func (c *Client) writeQueuedFrames() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		frame, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeFrame(frame) {
			return false
		}
	}
	return true
}

// writePing sends a ping message to keep the connection alive
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		c.log.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("write ping", zap.Error(err))
		return false
	}
	return true
}
