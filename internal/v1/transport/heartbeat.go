package transport

import (
	"context"
	"time"

	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/metrics"
	"go.uber.org/zap"
)

// runHeartbeat is the process-wide liveness loop: one ticker per hub.
func (h *Hub) runHeartbeat(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.heartbeatTick()
		}
	}
}

// heartbeatTick scans a snapshot of the directory. Sessions silent past the
// absolute threshold (interval + timeout) are evicted through the normal
// force-close + drop path; everyone else gets a transport ping. Ping delivery
// failures are left to the socket close path.
func (h *Hub) heartbeatTick() {
	h.mu.Lock()
	sessions := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		sessions = append(sessions, c)
	}
	h.mu.Unlock()

	staleAfter := h.heartbeatInterval + h.heartbeatTimeout
	var stale []*Client
	for _, c := range sessions {
		if time.Since(c.LastActive()) > staleAfter {
			stale = append(stale, c)
			continue
		}
		c.Ping()
	}

	for _, c := range stale {
		logging.Info(context.Background(), "Evicting stale session",
			zap.String("clientId", string(c.ID)),
			zap.Duration("inactive", time.Since(c.LastActive())))
		metrics.HeartbeatEvictions.Inc()
		c.ForceClose()
		h.Drop(c)
	}
}
