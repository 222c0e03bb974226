package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftlab/roomcast/internal/v1/bus"
	"github.com/driftlab/roomcast/internal/v1/registry"
	"github.com/gorilla/websocket"
)

var errMockConnClosed = errors.New("mock connection closed")

// mockConn implements wsConnection. Inbound frames are fed through deliver;
// outbound text frames and pings are recorded for assertions.
type mockConn struct {
	mu          sync.Mutex
	frames      [][]byte
	pings       int
	closed      bool
	pongHandler func(string) error
	writeFunc   func(messageType int, data []byte) error // optional fault injection

	inbound   chan readResult
	closeCh   chan struct{}
	closeOnce sync.Once
}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan readResult, 32),
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-m.inbound:
		return r.messageType, r.data, r.err
	case <-m.closeCh:
		return 0, nil, errMockConnClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(messageType, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		m.frames = append(m.frames, append([]byte(nil), data...))
	case websocket.PingMessage:
		m.pings++
	}
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.closeCh)
	})
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error      { return nil }
func (m *mockConn) SetReadLimit(int64)                    {}
func (m *mockConn) SetPongHandler(h func(string) error)   { m.pongHandler = h }

// deliver feeds a text frame to the read pump.
func (m *mockConn) deliver(data []byte) {
	m.inbound <- readResult{messageType: websocket.TextMessage, data: data}
}

// pong invokes the registered pong handler, mirroring gorilla's behavior of
// running it inside ReadMessage.
func (m *mockConn) pong() {
	if m.pongHandler != nil {
		_ = m.pongHandler("")
	}
}

func (m *mockConn) textFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

func (m *mockConn) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockConn) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockBus implements types.BusService.
type mockBus struct {
	mu             sync.Mutex
	published      []bus.Envelope
	subscribeCalls int
	failPublish    bool
}

func (m *mockBus) Publish(_ context.Context, roomID string, senderID string, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublish {
		return context.DeadlineExceeded
	}
	m.published = append(m.published, bus.Envelope{
		RoomID:   roomID,
		SenderID: senderID,
		Frame:    append([]byte(nil), frame...),
	})
	return nil
}

func (m *mockBus) Subscribe(_ context.Context, _ *sync.WaitGroup, _ func(bus.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeCalls++
}

func (m *mockBus) Ping(_ context.Context) error { return nil }
func (m *mockBus) Close() error                 { return nil }

func (m *mockBus) publishedEnvelopes() []bus.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bus.Envelope, len(m.published))
	copy(out, m.published)
	return out
}

// newTestHub builds a hub with delivery timers short enough for tests. The
// disconnect window stays wide so sessions survive the test body; tests that
// exercise the idle timer build their own hub.
func newTestHub() *Hub {
	return NewHub(Options{
		Registry:          registry.New(0),
		DevMode:           true,
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  5 * time.Second,
		SendTimeout:       50 * time.Millisecond,
		SendRetryDelay:    5 * time.Millisecond,
		SendMaxRetries:    3,
	})
}
