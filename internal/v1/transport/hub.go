package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftlab/roomcast/internal/v1/bus"
	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/driftlab/roomcast/internal/v1/protocol"
	"github.com/driftlab/roomcast/internal/v1/ratelimit"
	"github.com/driftlab/roomcast/internal/v1/registry"
	"github.com/driftlab/roomcast/internal/v1/types"
	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
)

// Default timers, used when Options leaves them zero.
const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
	defaultSendTimeout       = 5 * time.Second
	defaultSendRetryDelay    = 1 * time.Second
	defaultSendMaxRetries    = 3
	defaultMaxMessageBytes   = 1 << 20
)

// Options configures a Hub. Zero-valued timers fall back to the defaults
// above; Registry is the only required field.
type Options struct {
	Registry         *registry.Registry
	Bus              types.BusService         // optional cross-instance relay
	Limiter          *ratelimit.RateLimiter   // optional ws-connect limiter
	Messages         *ratelimit.MessageLimiter // optional per-session frame limiter
	AllowedOrigins   []string
	DevMode          bool // disables origin and rate checks
	RelayAttribution bool // stamp "sender" onto relayed object frames

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendTimeout       time.Duration
	SendRetryDelay    time.Duration
	SendMaxRetries    int
	MaxMessageBytes   int64
}

// Hub is the session directory and lifecycle owner: it admits connections,
// enforces at-most-one live session per clientId, drives the heartbeat
// scheduler, and fans relayed frames out to room members.
type Hub struct {
	mu       sync.Mutex
	sessions map[types.ClientIdType]*Client

	registry *registry.Registry
	bus      types.BusService
	limiter  *ratelimit.RateLimiter
	messages *ratelimit.MessageLimiter

	allowedOrigins   []string
	devMode          bool
	relayAttribution bool

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	sendTimeout       time.Duration
	sendRetryDelay    time.Duration
	sendMaxRetries    int
	maxMessageBytes   int64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHub creates a Hub wired to its dependencies.
func NewHub(opts Options) *Hub {
	if opts.Registry == nil {
		opts.Registry = registry.New(0)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.SendRetryDelay <= 0 {
		opts.SendRetryDelay = defaultSendRetryDelay
	}
	if opts.SendMaxRetries <= 0 {
		opts.SendMaxRetries = defaultSendMaxRetries
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}

	return &Hub{
		sessions:          make(map[types.ClientIdType]*Client),
		registry:          opts.Registry,
		bus:               opts.Bus,
		limiter:           opts.Limiter,
		messages:          opts.Messages,
		allowedOrigins:    opts.AllowedOrigins,
		devMode:           opts.DevMode,
		relayAttribution:  opts.RelayAttribution,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		sendTimeout:       opts.SendTimeout,
		sendRetryDelay:    opts.SendRetryDelay,
		sendMaxRetries:    opts.SendMaxRetries,
		maxMessageBytes:   opts.MaxMessageBytes,
	}
}

// Registry exposes the room registry, mainly for tests and introspection.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Running reports whether the hub has been started and not yet shut down.
// Used by the readiness probe.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// SessionCount returns the number of live sessions in the directory.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run starts the heartbeat scheduler and, when a bus is configured, the
// cross-instance subscription. Background work stops when Shutdown runs or
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running.Store(true)

	h.wg.Add(1)
	go h.runHeartbeat(ctx)

	if h.bus != nil {
		h.bus.Subscribe(ctx, &h.wg, h.handleBusEnvelope)
	}

	logging.Info(ctx, "Hub running",
		zap.Duration("heartbeatInterval", h.heartbeatInterval),
		zap.Duration("heartbeatTimeout", h.heartbeatTimeout))
}

// ServeWs upgrades an HTTP request to a WebSocket session. The clientId query
// parameter carries the caller's stable identity; absent, the server mints
// one.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.devMode && h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	clientID := types.ClientIdType(c.Query("clientId"))
	if clientID == "" {
		clientID = generateClientId()
	}

	h.HandleConnection(conn, clientID)
}

// HandleConnection admits an established connection and starts its pumps.
// The welcome frame is queued before anything else, so it is always the
// first application frame on the socket.
func (h *Hub) HandleConnection(conn wsConnection, clientID types.ClientIdType) *Client {
	conn.SetReadLimit(h.maxMessageBytes)

	client := newClient(h, conn, clientID)
	conn.SetPongHandler(func(string) error {
		client.handlePong()
		return nil
	})

	priorRoom := h.admit(client)
	metrics.IncConnection()

	welcome, err := protocol.Welcome(client.ID, client.StateSnapshot())
	if err != nil {
		logging.Error(context.Background(), "Failed to build welcome frame",
			zap.String("clientId", string(clientID)), zap.Error(err))
	} else {
		client.Send(welcome)
	}

	if priorRoom != "" {
		logging.Info(context.Background(), "Session resumed into prior room",
			zap.String("clientId", string(clientID)),
			zap.String("roomId", string(priorRoom)))
		h.SendRoomUserCount(priorRoom)
	}

	client.armDisconnectTimer()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	return client
}

// admit installs the client in the session directory. An existing session
// with the same id is displaced: its transport force-closed, its room
// membership transferred to the newcomer. Returns the prior room, empty when
// there was none.
func (h *Hub) admit(c *Client) types.RoomIdType {
	h.mu.Lock()
	prior := h.sessions[c.ID]
	h.sessions[c.ID] = c
	h.mu.Unlock()

	if prior == nil {
		return ""
	}

	priorRoom := prior.Room()
	logging.Info(context.Background(), "Displacing existing session for reconnect",
		zap.String("clientId", string(c.ID)),
		zap.String("priorRoom", string(priorRoom)))

	prior.ForceClose()
	metrics.DecConnection() // the displaced session's Drop will no-op

	if priorRoom != "" {
		h.registry.RemoveMember(priorRoom, c.ID)
		c.setRoom(priorRoom)
		h.registry.AddMember(priorRoom, c.ID)
	}
	return priorRoom
}

// Lookup returns the live session for the id, nil when absent.
func (h *Hub) Lookup(clientID types.ClientIdType) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[clientID]
}

// Drop removes the session from the directory and its room. It only acts when
// the directory still points at this exact session, so a displaced session
// unwinding late cannot evict its replacement. Idempotent.
func (h *Hub) Drop(c *Client) {
	h.mu.Lock()
	if h.sessions[c.ID] != c {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, c.ID)
	h.mu.Unlock()

	metrics.DecConnection()
	if h.messages != nil {
		h.messages.Remove(c.ID)
	}

	roomID := c.Room()
	if roomID == "" {
		return
	}
	if removed, _ := h.registry.RemoveMember(roomID, c.ID); removed {
		logging.Info(context.Background(), "Session left room",
			zap.String("clientId", string(c.ID)),
			zap.String("roomId", string(roomID)))
		h.SendRoomUserCount(roomID)
	}
}

// handleBusEnvelope delivers a frame relayed by another instance to every
// local member of the room and archives it locally. The sender is remote, so
// no local session is skipped except one that happens to share its id.
func (h *Hub) handleBusEnvelope(env bus.Envelope) {
	roomID := types.RoomIdType(env.RoomID)
	members := h.registry.MembersOf(roomID)
	if len(members) == 0 {
		return
	}

	h.registry.AppendHistory(roomID, env.Frame)
	for _, memberID := range members {
		if memberID == types.ClientIdType(env.SenderID) {
			continue
		}
		if peer := h.Lookup(memberID); peer != nil {
			peer.Send(env.Frame)
		}
	}
}

// Shutdown stops the scheduler, force-closes every session, waits for the
// pumps to drain, and resets the registry. Afterwards both the directory and
// the registry are empty.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - closing all sessions...")
	h.running.Store(false)
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	sessions := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		sessions = append(sessions, c)
	}
	h.sessions = make(map[types.ClientIdType]*Client)
	h.mu.Unlock()

	for _, c := range sessions {
		c.ForceClose()
		metrics.DecConnection()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn(ctx, "Hub shutdown timed out waiting for pumps", zap.Error(ctx.Err()))
		return ctx.Err()
	}

	h.registry.Reset()
	logging.Info(ctx, "Hub shut down", zap.Int("closedSessions", len(sessions)))
	return nil
}
