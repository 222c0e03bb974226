package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/driftlab/roomcast/internal/v1/bus"
	"github.com/driftlab/roomcast/internal/v1/config"
	"github.com/driftlab/roomcast/internal/v1/health"
	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/middleware"
	"github.com/driftlab/roomcast/internal/v1/ratelimit"
	"github.com/driftlab/roomcast/internal/v1/registry"
	"github.com/driftlab/roomcast/internal/v1/tracing"
	"github.com/driftlab/roomcast/internal/v1/transport"
)

const serviceName = "roomcast"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OtelEnabled {
		tracerProvider, err = tracing.InitTracer(context.Background(), serviceName, cfg.OtelEndpoint)
		if err != nil {
			slog.Warn("Tracing disabled: failed to initialize OTLP exporter", "error", err)
			tracerProvider = nil
		} else {
			slog.Info("✅ OTLP tracing initialized", "endpoint", cfg.OtelEndpoint)
		}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Cross-instance relay; absent, the server runs single-instance.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil
		} else {
			slog.Info("✅ Redis relay bus initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- Rate Limiting ---
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}
	messageLimiter := ratelimit.NewMessageLimiter(cfg.MessageRatePerSec, cfg.MessageBurst)

	// --- Hub ---
	allowedOrigins := parseAllowedOrigins(cfg.AllowedOrigins)
	hub := transport.NewHub(transport.Options{
		Registry:          registry.New(cfg.RoomHistoryLimit),
		Bus:               busService,
		Limiter:           rateLimiter,
		Messages:          messageLimiter,
		AllowedOrigins:    allowedOrigins,
		DevMode:           cfg.DevelopmentMode,
		RelayAttribution:  cfg.RelayAttribution,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SendTimeout:       cfg.SendTimeout,
		SendRetryDelay:    cfg.SendRetryDelay,
		SendMaxRetries:    cfg.SendMaxRetries,
		MaxMessageBytes:   cfg.MaxMessageBytes,
	})
	hub.Run(context.Background())

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware(serviceName))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Routing
	router.GET("/ws", hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService, hub)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Relay server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context gives in-flight sends and pumps 30 seconds to drain
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the heartbeat and force-close all sessions
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	// Flush traces
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// parseAllowedOrigins splits the configured CSV list, defaulting to the local
// frontend when nothing is set.
func parseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
