package transport

import (
	"context"
	"sync"
	"time"

	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/driftlab/roomcast/internal/v1/protocol"
	"github.com/driftlab/roomcast/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Client represents one live connection for one clientId. It owns the
// connection's pumps, the per-session presence state, and the disconnect
// timer. At most one Client per clientId is registered with the Hub at any
// instant; a reconnect with the same id displaces the older Client.
type Client struct {
	hub  *Hub
	conn wsConnection
	ID   types.ClientIdType

	mu         sync.RWMutex
	room       types.RoomIdType // current room, empty until the first join
	x, y       int
	color      string
	lastActive time.Time
	closed     bool
	disconnect *time.Timer // single-shot idle timer, re-armed on every receive/pong

	closeOnce sync.Once
	send      chan []byte   // buffered outbound queue, drained by writePump
	ping      chan struct{} // heartbeat ping directives
}

func newClient(h *Hub, conn wsConnection, id types.ClientIdType) *Client {
	return &Client{
		hub:        h,
		conn:       conn,
		ID:         id,
		color:      randomColor(),
		lastActive: time.Now(),
		send:       make(chan []byte, 256),
		ping:       make(chan struct{}, 1),
	}
}

// Room returns the session's current room, empty before the first join.
func (c *Client) Room() types.RoomIdType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Client) setRoom(roomID types.RoomIdType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = roomID
}

// StateSnapshot returns a copy of the session's presence state.
func (c *Client) StateSnapshot() types.ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ClientState{
		X:          c.x,
		Y:          c.y,
		Color:      c.color,
		LastActive: c.lastActive.UnixMilli(),
	}
}

// LastActive reports when the session last produced an inbound frame or pong.
func (c *Client) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// touch refreshes the liveness timestamp. Every inbound frame and every pong
// counts as activity, valid JSON or not.
func (c *Client) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
}

// applyDraw folds a draw message into the presence state. Coordinates are
// opaque numeric pass-through, truncated to int; color only changes when the
// message carries one.
func (c *Client) applyDraw(msg *protocol.ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.X != nil {
		c.x = int(*msg.X)
	}
	if msg.Y != nil {
		c.y = int(*msg.Y)
	}
	if msg.Color != "" {
		c.color = msg.Color
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// armDisconnectTimer schedules a force-close after the idle window. Called on
// accept and after every handled frame or pong.
func (c *Client) armDisconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.disconnect != nil {
		c.disconnect.Stop()
	}
	c.disconnect = time.AfterFunc(c.hub.heartbeatTimeout, c.disconnectExpired)
}

func (c *Client) stopDisconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnect != nil {
		c.disconnect.Stop()
		c.disconnect = nil
	}
}

func (c *Client) disconnectExpired() {
	logging.Warn(context.Background(), "Session idle past disconnect window, closing",
		zap.String("clientId", string(c.ID)))
	c.ForceClose()
	c.hub.Drop(c)
}

// handlePong runs inside the read pump via the transport's pong handler, so
// it is serialized with frame handling.
func (c *Client) handlePong() {
	c.stopDisconnectTimer()
	c.touch()
	c.armDisconnectTimer()
}

// ForceClose tears the connection down. Idempotent; safe from any goroutine.
// Closing the send channel unwinds the write pump, closing the socket unwinds
// the read pump into the Hub's drop path.
func (c *Client) ForceClose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.disconnect != nil {
			c.disconnect.Stop()
			c.disconnect = nil
		}
		c.mu.Unlock()

		close(c.send)
		_ = c.conn.Close()
	})
}

// Send enqueues a pre-serialized frame for delivery. Non-blocking: when the
// queue is full or the session is closed the frame is dropped and counted,
// never stalling the caller's fan-out.
func (c *Client) Send(frame []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		metrics.FramesDropped.Inc()
		logging.GetLogger().Debug("Skipping send to closed session", zap.String("clientId", string(c.ID)))
		return
	}
	c.mu.RUnlock()

	// Enqueue can race ForceClose closing the channel.
	defer func() {
		if r := recover(); r != nil {
			metrics.FramesDropped.Inc()
			logging.Warn(context.Background(), "Recovered from send on closed session",
				zap.String("clientId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- frame:
	default:
		metrics.FramesDropped.Inc()
		logging.Warn(context.Background(), "Session send queue full - dropping frame",
			zap.String("clientId", string(c.ID)))
	}
}

// Ping queues a transport-level ping directive. Delivery failures are left to
// the socket close path.
func (c *Client) Ping() {
	if c.isClosed() {
		return
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// readPump consumes inbound frames until the socket dies. Frames are handled
// inline, so each session observes its events strictly in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.ForceClose()
		c.hub.Drop(c)
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.handleFrame(c, data)
	}
}

// writePump is the session's single writer. Text frames go through
// writeWithRetry; ping directives become transport ping frames. Exhausted
// retries terminate the pump, which closes the socket.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeWithRetry(frame) {
				return
			}
		case <-c.ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.sendTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logging.Warn(context.Background(), "Ping write failed",
					zap.String("clientId", string(c.ID)), zap.Error(err))
				return
			}
		}
	}
}

// writeWithRetry attempts the write up to the configured number of passes.
// Each pass bails out immediately when the session is already closed,
// otherwise writes under the send deadline; failed passes wait the retry
// delay before the next. Reports whether the frame made it onto the wire.
func (c *Client) writeWithRetry(frame []byte) bool {
	for attempt := 0; attempt < c.hub.sendMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.hub.sendRetryDelay)
			metrics.SendRetries.Inc()
		}
		if c.isClosed() {
			return false
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.sendTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, frame)
		if err == nil {
			return true
		}
		logging.Warn(context.Background(), "Frame write failed",
			zap.String("clientId", string(c.ID)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	metrics.SendFailures.Inc()
	logging.Error(context.Background(), "Abandoning frame after exhausting write retries",
		zap.String("clientId", string(c.ID)),
		zap.Int("attempts", c.hub.sendMaxRetries))
	return false
}
