package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer wires the hub into a real HTTP server so the flow runs
// through the genuine gorilla upgrade and framing.
func startTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newTestHub()
	h.Run(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})

	router := gin.New()
	router.GET("/ws", h.ServeWs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialClient(t *testing.T, wsURL, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?clientId="+clientID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestIntegration_JoinAndRelay(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := dialClient(t, wsURL, "alice")
	welcome := readFrame(t, alice)
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "alice", welcome["clientId"])

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R"}`)))
	assert.Equal(t, "roomHistory", readFrame(t, alice)["type"])
	count := readFrame(t, alice)
	assert.Equal(t, "roomUserCount", count["type"])
	assert.Equal(t, float64(1), count["count"])

	bob := dialClient(t, wsURL, "bob")
	assert.Equal(t, "welcome", readFrame(t, bob)["type"])
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R"}`)))
	assert.Equal(t, "roomHistory", readFrame(t, bob)["type"])
	bobCount := readFrame(t, bob)
	assert.Equal(t, float64(2), bobCount["count"])

	// Alice sees the membership change too.
	aliceCount := readFrame(t, alice)
	assert.Equal(t, "roomUserCount", aliceCount["type"])
	assert.Equal(t, float64(2), aliceCount["count"])

	// A draw from alice arrives at bob verbatim.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"draw","x":100,"y":200,"color":"#ff0000"}`)))
	draw := readFrame(t, bob)
	assert.Equal(t, "draw", draw["type"])
	assert.Equal(t, float64(100), draw["x"])
	assert.Equal(t, float64(200), draw["y"])
	assert.Equal(t, "#ff0000", draw["color"])
}

func TestIntegration_MalformedJSONKeepsConnection(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := dialClient(t, wsURL, "alice")
	assert.Equal(t, "welcome", readFrame(t, alice)["type"])

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	errFrame := readFrame(t, alice)
	assert.Equal(t, "error", errFrame["type"])
	assert.Equal(t, "Invalid JSON", errFrame["message"])

	// Still usable afterwards.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R"}`)))
	assert.Equal(t, "roomHistory", readFrame(t, alice)["type"])
}

func TestIntegration_GeneratedClientIdInWelcome(t *testing.T) {
	_, wsURL := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome["type"])
	assert.Regexp(t, `^client-\d+-[0-9a-z]{9}$`, welcome["clientId"])
}

func TestIntegration_IsolationAcrossRooms(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := dialClient(t, wsURL, "alice")
	readFrame(t, alice) // welcome
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R1"}`)))
	readFrame(t, alice) // roomHistory
	readFrame(t, alice) // roomUserCount

	carol := dialClient(t, wsURL, "carol")
	readFrame(t, carol) // welcome
	require.NoError(t, carol.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R2"}`)))
	readFrame(t, carol) // roomHistory
	readFrame(t, carol) // roomUserCount

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"draw","x":1,"y":1}`)))

	// Nothing crosses the room boundary.
	require.NoError(t, carol.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := carol.ReadMessage()
	assert.Error(t, err)
}

func TestIntegration_SessionResumption(t *testing.T) {
	h, wsURL := startTestServer(t)

	first := dialClient(t, wsURL, "X")
	readFrame(t, first) // welcome
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"R1"}`)))
	readFrame(t, first) // roomHistory
	readFrame(t, first) // roomUserCount

	// Reconnect with the same clientId while the server still considers the
	// old connection live (a dropped network path, not a clean close): the
	// old transport is displaced and membership carries over without a new
	// join.
	second := dialClient(t, wsURL, "X")
	welcome := readFrame(t, second)
	require.Equal(t, "welcome", welcome["type"])
	count := readFrame(t, second)
	assert.Equal(t, "roomUserCount", count["type"])
	assert.Equal(t, "R1", count["roomId"])
	assert.Equal(t, float64(1), count["count"])
	assert.Equal(t, 1, h.registry.UserCount("R1"))

	// The displaced transport is force-closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}
