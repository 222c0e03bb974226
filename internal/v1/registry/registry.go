// Package registry tracks which sessions occupy which rooms and keeps each
// room's bounded event archive. It holds no transport state: members are
// plain client IDs, and the transport layer decides how to reach them.
package registry

import (
	"container/list"
	"encoding/json"
	"sync"

	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/driftlab/roomcast/internal/v1/types"
	"k8s.io/utils/set"
)

// DefaultHistoryLimit caps each room's archive when no limit is configured.
const DefaultHistoryLimit = 100

// room holds the membership and archive for one room. Access is guarded by
// the owning Registry's mutex.
type room struct {
	members set.Set[types.ClientIdType]
	history *list.List // json.RawMessage entries, oldest at the front
}

// Registry is the authoritative map of live rooms. A room exists exactly as
// long as it has at least one member; the last leave deletes the room and its
// history with it.
type Registry struct {
	mu           sync.Mutex
	rooms        map[types.RoomIdType]*room
	historyLimit int
}

// New creates an empty registry. historyLimit values below 1 fall back to
// DefaultHistoryLimit.
func New(historyLimit int) *Registry {
	if historyLimit < 1 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		rooms:        make(map[types.RoomIdType]*room),
		historyLimit: historyLimit,
	}
}

// AddMember inserts the client into the room, creating the room on first
// join. Adding an existing member is a no-op. Returns the resulting member
// count.
func (r *Registry) AddMember(roomID types.RoomIdType, clientID types.ClientIdType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			members: set.New[types.ClientIdType](),
			history: list.New(),
		}
		r.rooms[roomID] = rm
		metrics.ActiveRooms.Inc()
	}

	rm.members.Insert(clientID)
	count := rm.members.Len()
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(count))
	return count
}

// RemoveMember removes the client from the room. The room is deleted entirely
// when its last member leaves. Removing from an absent room or removing an
// absent member is a no-op. Returns whether a removal happened and the number
// of members remaining.
func (r *Registry) RemoveMember(roomID types.RoomIdType, clientID types.ClientIdType) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false, 0
	}
	if !rm.members.Has(clientID) {
		return false, rm.members.Len()
	}

	rm.members.Delete(clientID)
	remaining := rm.members.Len()
	if remaining == 0 {
		delete(r.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(string(roomID))
	} else {
		metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(remaining))
	}
	return true, remaining
}

// MembersOf returns a snapshot of the room's members. Empty when the room
// does not exist.
func (r *Registry) MembersOf(roomID types.RoomIdType) []types.ClientIdType {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.members.UnsortedList()
}

// UserCount returns the number of members in the room, 0 when absent.
func (r *Registry) UserCount(roomID types.RoomIdType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return rm.members.Len()
}

// RoomsOf returns every room the client is currently a member of.
func (r *Registry) RoomsOf(clientID types.ClientIdType) []types.RoomIdType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rooms []types.RoomIdType
	for id, rm := range r.rooms {
		if rm.members.Has(clientID) {
			rooms = append(rooms, id)
		}
	}
	return rooms
}

// AppendHistory archives a frame in the room, trimming the oldest entries
// while the archive exceeds the cap. No-op when the room does not exist.
func (r *Registry) AppendHistory(roomID types.RoomIdType, frame json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	rm.history.PushBack(frame)
	for rm.history.Len() > r.historyLimit {
		rm.history.Remove(rm.history.Front())
		metrics.HistoryEvictions.Inc()
	}
}

// HistoryOf returns a snapshot of the room's archive, oldest first. Empty
// when the room does not exist.
func (r *Registry) HistoryOf(roomID types.RoomIdType) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	history := make([]json.RawMessage, 0, rm.history.Len())
	for e := rm.history.Front(); e != nil; e = e.Next() {
		history = append(history, e.Value.(json.RawMessage))
	}
	return history
}

// RoomCount returns the number of occupied rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Reset drops every room and archive. Used on shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.rooms {
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(string(id))
	}
	r.rooms = make(map[types.RoomIdType]*room)
}
