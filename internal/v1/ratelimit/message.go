package ratelimit

import (
	"sync"

	"github.com/driftlab/roomcast/internal/v1/types"
	"golang.org/x/time/rate"
)

// MessageLimiter hands each session its own token bucket for inbound frames.
// Buckets are created on first use and must be removed when the session is
// dropped, or the map grows with every clientId ever seen.
type MessageLimiter struct {
	mu       sync.Mutex
	limiters map[types.ClientIdType]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewMessageLimiter creates a limiter allowing perSecond sustained frames
// with the given burst per session.
func NewMessageLimiter(perSecond float64, burst int) *MessageLimiter {
	return &MessageLimiter{
		limiters: make(map[types.ClientIdType]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether the session may process another frame now.
func (m *MessageLimiter) Allow(clientID types.ClientIdType) bool {
	m.mu.Lock()
	l, ok := m.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(m.limit, m.burst)
		m.limiters[clientID] = l
	}
	m.mu.Unlock()
	return l.Allow()
}

// Remove discards the session's bucket. Called from the drop path.
func (m *MessageLimiter) Remove(clientID types.ClientIdType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, clientID)
}

// Len returns the number of tracked sessions.
func (m *MessageLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}
