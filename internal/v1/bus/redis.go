// Package bus relays chat, presence, and per-user push events between
// server instances over Redis Pub/Sub. All methods are nil-safe: a nil
// *Service means single-instance mode and every operation becomes a no-op.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
)

const (
	// ChannelBroadcast carries chat messages and presence events for every instance.
	ChannelBroadcast = "nexus:broadcast"
	// ChannelDirect carries per-user pushes; each instance delivers to the
	// sessions it holds for the target username.
	ChannelDirect = "nexus:direct"

	// KeyOnlineUsers is the Redis set mirroring usernames with live presence.
	KeyOnlineUsers = "nexus:presence:online"
)

// PubSubPayload is the envelope for messages moving between instances.
type PubSubPayload struct {
	Event    string          `json:"event"`            // e.g. "chat", "user_online", "push"
	Payload  json.RawMessage `json:"payload"`          // event-specific data
	SenderID string          `json:"senderId"`         // publishing instance, used to suppress echo
	Target   string          `json:"target,omitempty"` // username for direct pushes, empty for broadcast
}

// Service handles all interaction with Redis.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

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

	logging.Info(ctx, "Connected to Redis Pub/Sub", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish sends an event to every instance via the broadcast channel.
// senderID must be the publishing instance's ID so subscribers can skip
// their own messages.
func (s *Service) Publish(ctx context.Context, event string, payload any, senderID string) error {
	return s.publish(ctx, ChannelBroadcast, PubSubPayload{Event: event, SenderID: senderID}, payload)
}

// PublishDirect sends an event addressed to a single username. Instances
// that hold no session for the target simply ignore it.
func (s *Service) PublishDirect(ctx context.Context, targetUser, event string, payload any, senderID string) error {
	return s.publish(ctx, ChannelDirect, PubSubPayload{Event: event, SenderID: senderID, Target: targetUser}, payload)
}

func (s *Service) publish(ctx context.Context, channel string, envelope PubSubPayload, payload any) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}
		envelope.Payload = innerBytes

		data, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open, dropping publish",
				zap.String("channel", channel), zap.String("event", envelope.Event))
			return nil // Graceful degradation: drop message, don't crash caller
		}
		logging.Error(ctx, "Redis publish failed",
			zap.String("channel", channel), zap.String("event", envelope.Event), zap.Error(err))
		return err
	}

	return nil
}

// Subscribe starts a background goroutine that feeds every valid message on
// the channel to handler. The goroutine exits when ctx is cancelled or the
// subscription dies; wg (optional) tracks its lifetime.
func (s *Service) Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return // Single-instance mode, no Redis available
	}

	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "Subscribed to Redis channel", zap.String("channel", channel))

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "Redis subscription channel closed", zap.String("channel", channel))
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "Failed to unmarshal Redis message",
						zap.Error(err), zap.String("raw", msg.Payload))
					continue
				}

				handler(payload)
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

// SetAdd adds a member to a Redis set. Used to mirror online presence.
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open, skipping SetAdd", zap.String("key", key))
			return nil // Graceful degradation
		}
		logging.Error(ctx, "Redis SetAdd failed",
			zap.String("key", key), zap.String("member", member), zap.Error(err))
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open, skipping SetRem", zap.String("key", key))
			return nil // Graceful degradation
		}
		logging.Error(ctx, "Redis SetRem failed",
			zap.String("key", key), zap.String("member", member), zap.Error(err))
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-instance mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open, returning empty set members", zap.String("key", key))
			return nil, nil // Graceful degradation: callers fall back to local state
		}
		logging.Error(ctx, "Redis SetMembers failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
