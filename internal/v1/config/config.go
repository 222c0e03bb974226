package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// HTTP surface
	Port           string
	AllowedOrigins string

	// Environment
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Optional Redis relay bus
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Heartbeat and delivery timers
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendTimeout       time.Duration
	SendRetryDelay    time.Duration
	SendMaxRetries    int

	// Relay behavior
	RoomHistoryLimit int
	MaxMessageBytes  int64
	RelayAttribution bool

	// Rate limits
	RateLimitWsIp     string
	MessageRatePerSec float64
	MessageBurst      int

	// Tracing
	OtelEnabled  bool
	OtelEndpoint string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Returns an error listing every invalid variable, so misconfiguration is
// reported in one pass.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (defaults to 3000, must be a valid port number when set)
	cfg.Port = getEnvOrDefault("PORT", "3000")
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Heartbeat and delivery timers (milliseconds)
	cfg.HeartbeatInterval = time.Duration(parsePositiveInt("HEARTBEAT_INTERVAL_MS", 30000, &errors)) * time.Millisecond
	cfg.HeartbeatTimeout = time.Duration(parsePositiveInt("HEARTBEAT_TIMEOUT_MS", 10000, &errors)) * time.Millisecond
	cfg.SendTimeout = time.Duration(parsePositiveInt("SEND_TIMEOUT_MS", 5000, &errors)) * time.Millisecond
	cfg.SendRetryDelay = time.Duration(parsePositiveInt("SEND_RETRY_DELAY_MS", 1000, &errors)) * time.Millisecond
	cfg.SendMaxRetries = parsePositiveInt("SEND_MAX_RETRIES", 3, &errors)

	// Relay behavior
	cfg.RoomHistoryLimit = parsePositiveInt("ROOM_HISTORY_LIMIT", 100, &errors)
	cfg.MaxMessageBytes = int64(parsePositiveInt("MAX_MESSAGE_BYTES", 1048576, &errors))
	cfg.RelayAttribution = os.Getenv("RELAY_ATTRIBUTION") == "true"

	// Rate limits (ulule format for the connect limit: count-period)
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.MessageRatePerSec = float64(parsePositiveInt("MESSAGE_RATE_PER_SEC", 60, &errors))
	cfg.MessageBurst = parsePositiveInt("MESSAGE_BURST", 120, &errors)

	// Tracing
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	cfg.OtelEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
		"send_timeout", cfg.SendTimeout,
		"send_retry_delay", cfg.SendRetryDelay,
		"send_max_retries", cfg.SendMaxRetries,
		"room_history_limit", cfg.RoomHistoryLimit,
		"max_message_bytes", cfg.MaxMessageBytes,
		"relay_attribution", cfg.RelayAttribution,
		"rate_limit_ws_ip", cfg.RateLimitWsIp,
		"message_rate_per_sec", cfg.MessageRatePerSec,
		"otel_enabled", cfg.OtelEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parsePositiveInt reads a positive integer environment variable, falling
// back to def when unset and recording a validation error when malformed.
func parsePositiveInt(key string, def int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return def
	}
	return value
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
