package transport

import (
	"context"
	"time"

	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/driftlab/roomcast/internal/v1/protocol"
	"github.com/driftlab/roomcast/internal/v1/types"
	"go.uber.org/zap"
)

// Relay fans a serialized frame out to every member of the sender's rooms
// except the sender itself. Membership is snapshotted by the registry before
// any send, so no registry lock is held while enqueueing. Delivery rides each
// recipient's ordered outbound queue; one slow or dead recipient never
// affects the rest, and the fan-out never aborts.
func (h *Hub) Relay(sender *Client, rooms []types.RoomIdType, frame []byte) {
	start := time.Now()
	defer func() {
		metrics.BroadcastFanoutDuration.Observe(time.Since(start).Seconds())
	}()

	for _, roomID := range rooms {
		for _, memberID := range h.registry.MembersOf(roomID) {
			if memberID == sender.ID {
				continue
			}
			peer := h.Lookup(memberID)
			if peer == nil {
				logging.GetLogger().Debug("Room member has no live session",
					zap.String("clientId", string(memberID)),
					zap.String("roomId", string(roomID)))
				continue
			}
			peer.Send(frame)
		}

		if h.bus != nil {
			if err := h.bus.Publish(context.Background(), string(roomID), string(sender.ID), frame); err != nil {
				logging.Warn(context.Background(), "Bus publish failed - local relay unaffected",
					zap.String("roomId", string(roomID)), zap.Error(err))
			}
		}
	}
}

// SendRoomUserCount broadcasts the room's current member count to every
// member, including whoever just triggered the change.
func (h *Hub) SendRoomUserCount(roomID types.RoomIdType) {
	count := h.registry.UserCount(roomID)
	frame, err := protocol.RoomUserCount(roomID, count)
	if err != nil {
		logging.Error(context.Background(), "Failed to build roomUserCount frame",
			zap.String("roomId", string(roomID)), zap.Error(err))
		return
	}

	for _, memberID := range h.registry.MembersOf(roomID) {
		if peer := h.Lookup(memberID); peer != nil {
			peer.Send(frame)
		}
	}
}

// SendRoomHistory delivers the room's archive to one client, oldest first.
// Sent to a joiner before the handler returns to the read loop, so history
// always precedes any later relay on that socket.
func (h *Hub) SendRoomHistory(c *Client, roomID types.RoomIdType) {
	frame, err := protocol.RoomHistory(roomID, h.registry.HistoryOf(roomID))
	if err != nil {
		logging.Error(context.Background(), "Failed to build roomHistory frame",
			zap.String("roomId", string(roomID)), zap.Error(err))
		return
	}
	c.Send(frame)
}
