package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/netvigil/netvigil/pkg/wire"
)

// protocolErrorLimit disconnects a client after this many consecutive
// malformed or oversized frames. Any valid frame resets the counter.
const protocolErrorLimit = 3

// client is one websocket session. Outbound messages go through a
// bounded queue so one slow reader cannot stall the hub; the queue
// policy keeps alert_update messages over routine broadcasts.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	mu       sync.Mutex
	queue    []wire.Envelope
	closed   bool
	closeMsg string

	notify chan struct{}
	done   chan struct{}

	protocolErrs int
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	id := uuid.New().String()
	return &client{
		id:     id,
		hub:    h,
		conn:   conn,
		log:    h.logger.With().Str("client", id).Logger(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends an envelope to the outbound queue. Above the soft
// limit the oldest non-alert message is dropped first; above the hard
// limit the client is disconnected.
func (c *client) enqueue(env wire.Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= c.hub.cfg.QueueHardLimit {
		c.closeLocked("backpressure")
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= c.hub.cfg.QueueSoftLimit {
		dropped := false
		for i, queued := range c.queue {
			if queued.MessageType != wire.TypeAlertUpdate {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && env.MessageType != wire.TypeAlertUpdate {
			// Queue is all alerts and the newcomer is not one.
			c.mu.Unlock()
			return
		}
	}
	c.queue = append(c.queue, env)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// closeLocked marks the client for disconnect; writePump finishes the
// teardown. Caller holds c.mu.
func (c *client) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeMsg = reason
	close(c.done)
}

func (c *client) disconnect(reason string) {
	c.mu.Lock()
	c.closeLocked(reason)
	c.mu.Unlock()
}

// writePump drains the queue to the socket, one JSON object per frame,
// under a per-write deadline.
func (c *client) writePump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.mu.Lock()
			reason := c.closeMsg
			c.mu.Unlock()
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			c.log.Info().Str("reason", reason).Msg("Client disconnected")
			return
		case <-c.notify:
			for {
				c.mu.Lock()
				if len(c.queue) == 0 || c.closed {
					c.mu.Unlock()
					break
				}
				env := c.queue[0]
				c.queue = c.queue[1:]
				c.mu.Unlock()

				c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
				if err := c.conn.WriteJSON(env); err != nil {
					c.log.Debug().Err(err).Msg("Write failed")
					c.disconnect("write failure")
					break
				}
			}
		}
	}
}

// readPump parses inbound command frames and dispatches them. Malformed
// frames earn an error reply and a strike.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(c.hub.cfg.MaxFrameBytes)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.disconnect("read closed")
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame validates one inbound frame. A malformed or unknown
// command earns a strike; any valid command resets the strike count.
func (c *client) handleFrame(data []byte) {
	cmd, err := wire.ParseCommand(data)
	if err != nil {
		c.strike(err.Error(), "")
		return
	}
	if !wire.Allowed(cmd.Command) {
		c.strike("unknown command: "+cmd.Command, cmd.ID)
		return
	}
	c.protocolErrs = 0
	c.hub.dispatch(c, cmd)
}

func (c *client) strike(msg, id string) {
	c.protocolErrs++
	c.enqueue(wire.NewError(msg, id))
	if c.protocolErrs >= protocolErrorLimit {
		c.disconnect("protocol errors")
	}
}
