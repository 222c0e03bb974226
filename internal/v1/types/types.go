package types

import (
	"context"
	"sync"

	"github.com/driftlab/roomcast/internal/v1/bus"
)

// --- Core Domain Types ---

// ClientIdType represents a unique identifier for a client session.
type ClientIdType string

// RoomIdType represents a unique identifier for a relay room.
type RoomIdType string

// ClientState is the presence data the server tracks per session.
// LastActive is wall-clock milliseconds since the Unix epoch; it refreshes
// on every inbound frame and every pong.
type ClientState struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Color      string `json:"color"`
	LastActive int64  `json:"lastActive"`
}

// --- Shared Interfaces ---

// BusService defines the interface for cross-instance relay messaging.
// A nil implementation means single-instance mode.
type BusService interface {
	Publish(ctx context.Context, roomID string, senderID string, frame []byte) error
	Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(bus.Envelope))
	Ping(ctx context.Context) error
	Close() error
}
