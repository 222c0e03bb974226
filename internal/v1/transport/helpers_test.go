package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/driftlab/roomcast/internal/v1/types"
	"github.com/stretchr/testify/require"
)

// connect admits a mock connection under the given id and returns both ends.
func connect(h *Hub, id types.ClientIdType) (*Client, *mockConn) {
	conn := newMockConn()
	client := h.HandleConnection(conn, id)
	return client, conn
}

// waitFrameCount blocks until the connection has recorded at least n
// outbound text frames.
func waitFrameCount(t *testing.T, conn *mockConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.frameCount() >= n
	}, 2*time.Second, 5*time.Millisecond, "expected at least %d frames, got %d", n, conn.frameCount())
}

// decodeFrame unmarshals a frame into a generic map for field assertions.
func decodeFrame(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// joinRoom delivers a join frame and waits until the roomHistory and
// roomUserCount replies reach the joiner.
func joinRoom(t *testing.T, conn *mockConn, roomID string) {
	t.Helper()
	before := conn.frameCount()
	conn.deliver([]byte(`{"type":"join","roomId":"` + roomID + `"}`))
	waitFrameCount(t, conn, before+2)
}
