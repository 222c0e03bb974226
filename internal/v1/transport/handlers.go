package transport

import (
	"context"
	"encoding/json"

	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/driftlab/roomcast/internal/v1/protocol"
	"github.com/driftlab/roomcast/internal/v1/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// handleFrame is the per-session state machine. It runs inside the session's
// read pump, so frames from one client are processed strictly in arrival
// order. Every path re-arms the disconnect timer on the way out.
func (h *Hub) handleFrame(c *Client, data []byte) {
	c.stopDisconnectTimer()
	c.touch()
	defer c.armDisconnectTimer()

	metrics.MessageBytes.Observe(float64(len(data)))

	if !h.devMode && h.messages != nil && !h.messages.Allow(c.ID) {
		metrics.RateLimitExceeded.WithLabelValues("websocket_message", "client").Inc()
		logging.Warn(context.Background(), "Message rate limit exceeded - dropping frame",
			zap.String("clientId", string(c.ID)))
		return
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("invalid", "error").Inc()
		logging.Warn(context.Background(), "Inbound frame is not valid JSON",
			zap.String("clientId", string(c.ID)), zap.Error(err))
		c.Send(protocol.ErrorFrame(protocol.MsgInvalidJSON))
		return
	}

	eventType := msg.Type
	if eventType == "" {
		eventType = "unknown"
	}
	timer := prometheus.NewTimer(metrics.MessageProcessingDuration.WithLabelValues(eventType))
	defer timer.ObserveDuration()

	if msg.Type == protocol.TypeJoin {
		h.handleJoin(c, msg)
		return
	}

	if msg.Type == protocol.TypeDraw {
		c.applyDraw(msg)
	}

	// The relay is content-agnostic: anything that is not a join is archived
	// and forwarded as-is, provided the sender is in a room.
	rooms := h.registry.RoomsOf(c.ID)
	if len(rooms) == 0 {
		metrics.WebsocketEvents.WithLabelValues(eventType, "dropped").Inc()
		logging.GetLogger().Debug("Dropping frame from session outside any room",
			zap.String("clientId", string(c.ID)),
			zap.String("type", eventType))
		return
	}

	out := data
	if h.relayAttribution {
		out = protocol.WithSender(data, c.ID)
	}
	for _, roomID := range rooms {
		h.registry.AppendHistory(roomID, json.RawMessage(data))
	}
	h.Relay(c, rooms, out)
	metrics.WebsocketEvents.WithLabelValues(eventType, "relayed").Inc()
}

// handleJoin moves the session into the named room. The remove-then-add pair
// runs even for a same-room rejoin, so a sole occupant rejoining its own room
// recreates it empty. The joiner gets the room's archive, then everyone
// (joiner included) gets the updated user count. Join frames are never
// archived or relayed.
func (h *Hub) handleJoin(c *Client, msg *protocol.ClientMessage) {
	if msg.RoomId == "" {
		metrics.WebsocketEvents.WithLabelValues(protocol.TypeJoin, "dropped").Inc()
		logging.Warn(context.Background(), "Join without roomId - ignoring",
			zap.String("clientId", string(c.ID)))
		return
	}

	roomID := types.RoomIdType(msg.RoomId)
	if prior := c.Room(); prior != "" {
		h.registry.RemoveMember(prior, c.ID)
	}
	c.setRoom(roomID)
	count := h.registry.AddMember(roomID, c.ID)

	logging.Info(context.Background(), "Session joined room",
		zap.String("clientId", string(c.ID)),
		zap.String("roomId", string(roomID)),
		zap.Int("members", count))

	h.SendRoomHistory(c, roomID)
	h.SendRoomUserCount(roomID)
	metrics.WebsocketEvents.WithLabelValues(protocol.TypeJoin, "ok").Inc()
}
