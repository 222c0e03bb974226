// Package health exposes the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftlab/roomcast/internal/v1/bus"
	"github.com/driftlab/roomcast/internal/v1/logging"
	"go.uber.org/zap"
)

// HubChecker reports whether the relay hub has been started and not yet shut
// down.
type HubChecker interface {
	Running() bool
}

// Handler manages health check endpoints.
type Handler struct {
	redisService *bus.Service
	hub          HubChecker
}

// NewHandler creates a health check handler. redisService may be nil
// (single-instance mode); hub may be nil only in tests.
func NewHandler(redisService *bus.Service, hub HubChecker) *Handler {
	return &Handler{
		redisService: redisService,
		hub:          hub,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live.
// Returns 200 whenever the process is alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
// Returns 200 only while the hub is running and, when the bus is enabled,
// Redis is reachable; 503 with per-dependency detail otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	hubStatus := h.checkHub()
	checks["hub"] = hubStatus
	if hubStatus != "healthy" {
		allHealthy = false
	}

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkHub() string {
	if h.hub == nil || !h.hub.Running() {
		return "unhealthy"
	}
	return "healthy"
}

// checkRedis verifies connectivity with a PING. A nil service means
// single-instance mode and counts as healthy.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
