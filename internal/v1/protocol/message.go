// Package protocol defines the JSON wire format exchanged with relay clients.
// The relay is content-agnostic: frames are forwarded and archived byte for
// byte, so this package only decodes the handful of fields the server acts on
// and builds the server-originated frames.
package protocol

import (
	"encoding/json"

	"github.com/driftlab/roomcast/internal/v1/types"
)

// Client-originated message types. Any other type value is relayed opaquely.
const (
	TypeJoin = "join"
	TypeDraw = "draw"
)

// Server-originated message types.
const (
	TypeWelcome       = "welcome"
	TypeRoomHistory   = "roomHistory"
	TypeRoomUserCount = "roomUserCount"
	TypeError         = "error"
)

// MsgInvalidJSON is the only error message the server puts on the wire.
const MsgInvalidJSON = "Invalid JSON"

// ClientMessage is the parsed view of an inbound frame. Only the fields the
// server acts on are decoded; relaying always uses the original raw bytes.
type ClientMessage struct {
	Type   string   `json:"type"`
	RoomId string   `json:"roomId"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Color  string   `json:"color"`
}

// Parse decodes an inbound frame. It returns an error only when the frame is
// not valid JSON. Valid JSON that does not decode into an object (arrays,
// strings, mismatched field types) comes back as an empty ClientMessage: the
// frame is a legitimate opaque event, just not one the server acts on.
func Parse(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if json.Valid(data) {
			return &ClientMessage{}, nil
		}
		return nil, err
	}
	return &msg, nil
}

type welcomeFrame struct {
	Type     string             `json:"type"`
	ClientId types.ClientIdType `json:"clientId"`
	State    types.ClientState  `json:"state"`
}

// Welcome builds the first frame every accepted session receives.
func Welcome(clientID types.ClientIdType, state types.ClientState) ([]byte, error) {
	return json.Marshal(welcomeFrame{
		Type:     TypeWelcome,
		ClientId: clientID,
		State:    state,
	})
}

type roomHistoryFrame struct {
	Type    string            `json:"type"`
	RoomId  types.RoomIdType  `json:"roomId"`
	History []json.RawMessage `json:"history"`
}

// RoomHistory builds the archive replay sent to a joining client. The history
// entries embed the original frame bytes untouched, oldest first.
func RoomHistory(roomID types.RoomIdType, history []json.RawMessage) ([]byte, error) {
	if history == nil {
		history = []json.RawMessage{}
	}
	return json.Marshal(roomHistoryFrame{
		Type:    TypeRoomHistory,
		RoomId:  roomID,
		History: history,
	})
}

type roomUserCountFrame struct {
	Type   string           `json:"type"`
	RoomId types.RoomIdType `json:"roomId"`
	Count  int              `json:"count"`
}

// RoomUserCount builds the membership notification broadcast to a room.
func RoomUserCount(roomID types.RoomIdType, count int) ([]byte, error) {
	return json.Marshal(roomUserCountFrame{
		Type:   TypeRoomUserCount,
		RoomId: roomID,
		Count:  count,
	})
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorFrame builds an error notification for a single client.
func ErrorFrame(message string) []byte {
	data, _ := json.Marshal(errorFrame{Type: TypeError, Message: message})
	return data
}

// WithSender stamps the sender's clientId onto an object frame as a top-level
// "sender" field. Frames that are not JSON objects are returned unchanged.
func WithSender(frame []byte, senderID types.ClientIdType) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		return frame
	}
	id, err := json.Marshal(senderID)
	if err != nil {
		return frame
	}
	obj["sender"] = id
	stamped, err := json.Marshal(obj)
	if err != nil {
		return frame
	}
	return stamped
}
