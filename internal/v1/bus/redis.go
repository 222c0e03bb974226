package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlab/roomcast/internal/v1/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// channelPattern matches every room channel on the shared Redis instance.
const channelPattern = "relay:room:*"

// Envelope is the standardized container for moving relayed frames between
// instances. Frame holds the client's original bytes untouched.
type Envelope struct {
	RoomID   string          `json:"roomId"`
	SenderID string          `json:"senderId"`
	Origin   string          `json:"origin"` // instance ID, used to prevent echo
	Frame    json.RawMessage `json:"frame"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	origin string
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Origin returns this instance's identifier, stamped on every published envelope.
func (s *Service) Origin() string {
	if s == nil {
		return ""
	}
	return s.origin
}

// NewService creates a robust Redis connection with a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis Pub/Sub", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		origin: uuid.New().String(),
	}, nil
}

// Publish broadcasts a relayed frame to all other instances watching this room.
// The frame bytes are forwarded verbatim inside the envelope.
func (s *Service) Publish(ctx context.Context, roomID string, senderID string, frame []byte) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		msg := Envelope{
			RoomID:   roomID,
			SenderID: senderID,
			Origin:   s.origin,
			Frame:    json.RawMessage(frame),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		// Channel schema: "relay:room:{id}"
		channel := fmt.Sprintf("relay:room:%s", roomID)

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusPublishTotal.WithLabelValues("dropped").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping publish", "roomID", roomID)
			return nil // Graceful degradation: drop message, don't crash caller
		}
		metrics.BusPublishTotal.WithLabelValues("error").Inc()
		slog.Error("Redis Publish Failed", "roomID", roomID, "error", err)
		return err
	}

	metrics.BusPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// Subscribe starts a background goroutine that listens for frames relayed by
// OTHER instances. Envelopes published by this instance are discarded before
// the handler runs.
func (s *Service) Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Envelope)) {
	if s == nil || s.client == nil {
		return // Single-instance mode, no Redis available
	}

	// One pattern subscription covers every room; rooms come and go too
	// quickly to manage per-room subscriptions.
	pubsub := s.client.PSubscribe(ctx, channelPattern)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel pattern", "pattern", channelPattern)

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or connection dies
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "pattern", channelPattern)
					return
				}

				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					slog.Error("Failed to unmarshal Redis message", "error", err, "raw", msg.Payload)
					continue
				}

				if envelope.Origin == s.origin {
					continue // our own publish echoed back
				}

				handler(envelope)
			}
		}
	}()
}

// Ping checks Redis connectivity using the PING command.
// Used by health checks to verify Redis is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}
