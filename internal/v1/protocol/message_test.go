package protocol

import (
	"encoding/json"
	"testing"

	"github.com/driftlab/roomcast/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Join(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"join","roomId":"lobby"}`))
	require.NoError(t, err)

	assert.Equal(t, TypeJoin, msg.Type)
	assert.Equal(t, "lobby", msg.RoomId)
}

func TestParse_Draw(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"draw","x":12,"y":34.5,"color":"#ff0000"}`))
	require.NoError(t, err)

	assert.Equal(t, TypeDraw, msg.Type)
	require.NotNil(t, msg.X)
	require.NotNil(t, msg.Y)
	assert.Equal(t, 12.0, *msg.X)
	assert.Equal(t, 34.5, *msg.Y)
	assert.Equal(t, "#ff0000", msg.Color)
}

func TestParse_DrawWithoutCoordinates(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"draw"}`))
	require.NoError(t, err)

	assert.Equal(t, TypeDraw, msg.Type)
	assert.Nil(t, msg.X)
	assert.Nil(t, msg.Y)
}

func TestParse_InvalidJSON(t *testing.T) {
	cases := []string{
		"this is not json",
		`{"type":"join"`,
		"",
	}

	for _, raw := range cases {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, "input %q should fail to parse", raw)
	}
}

func TestParse_ValidJSONNonObject(t *testing.T) {
	// Arrays, strings and numbers are valid JSON the relay treats as opaque
	// typeless events; they must not be reported as invalid.
	cases := []string{
		`["a","b"]`,
		`"hello"`,
		`42`,
		`{"type":123}`,
	}

	for _, raw := range cases {
		msg, err := Parse([]byte(raw))
		require.NoError(t, err, "input %q should not fail", raw)
		assert.Empty(t, msg.Type)
	}
}

func TestWelcome(t *testing.T) {
	state := types.ClientState{X: 0, Y: 0, Color: "#a1b2c3", LastActive: 1700000000000}
	data, err := Welcome("client-abc", state)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, TypeWelcome, decoded["type"])
	assert.Equal(t, "client-abc", decoded["clientId"])

	stateMap := decoded["state"].(map[string]any)
	assert.Equal(t, "#a1b2c3", stateMap["color"])
	assert.Equal(t, float64(1700000000000), stateMap["lastActive"])
}

func TestRoomHistory_PreservesFrames(t *testing.T) {
	history := []json.RawMessage{
		json.RawMessage(`{"type":"draw","x":1,"y":2}`),
		json.RawMessage(`{"type":"chat","text":"hi","nested":{"a":[1,2,3]}}`),
	}

	data, err := RoomHistory("lobby", history)
	require.NoError(t, err)

	var decoded struct {
		Type    string            `json:"type"`
		RoomId  string            `json:"roomId"`
		History []json.RawMessage `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, TypeRoomHistory, decoded.Type)
	assert.Equal(t, "lobby", decoded.RoomId)
	require.Len(t, decoded.History, 2)
	assert.JSONEq(t, string(history[0]), string(decoded.History[0]))
	assert.JSONEq(t, string(history[1]), string(decoded.History[1]))
}

func TestRoomHistory_EmptyIsArray(t *testing.T) {
	data, err := RoomHistory("lobby", nil)
	require.NoError(t, err)

	// Clients expect an array, not null.
	assert.Contains(t, string(data), `"history":[]`)
}

func TestRoomUserCount(t *testing.T) {
	data, err := RoomUserCount("lobby", 3)
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"roomUserCount","roomId":"lobby","count":3}`, string(data))
}

func TestErrorFrame(t *testing.T) {
	data := ErrorFrame(MsgInvalidJSON)
	assert.JSONEq(t, `{"type":"error","message":"Invalid JSON"}`, string(data))
}

func TestWithSender(t *testing.T) {
	frame := []byte(`{"type":"chat","text":"hi"}`)
	stamped := WithSender(frame, "client-9")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(stamped, &decoded))
	assert.Equal(t, "client-9", decoded["sender"])
	assert.Equal(t, "hi", decoded["text"])
}

func TestWithSender_NonObjectUnchanged(t *testing.T) {
	frame := []byte(`[1,2,3]`)
	assert.Equal(t, frame, WithSender(frame, "client-9"))
}
