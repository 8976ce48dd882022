// Package bus provides cross-instance fan-out over Redis pub/sub, so the
// hub can run behind a load balancer with more than one replica: an update
// applied on instance A is republished to every B/C/... listening on the
// same room channel. Every Publish is wrapped in a sony/gobreaker circuit
// breaker so a flaky Redis degrades broadcast gracefully instead of
// stalling room delivery; Subscribe and Close call Redis directly.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/logging"
)

// RoomMessage is what crosses the bus between instances for one room.
type RoomMessage struct {
	InstanceID string          `json:"instanceId"` // origin instance, to skip re-processing our own publish
	Kind       string          `json:"kind"`       // "update" | "presence" | "chat"
	From       string          `json:"from"`       // originating client_id
	Payload    json.RawMessage `json:"payload"`
}

// Handler processes a RoomMessage received from another instance.
type Handler func(ctx context.Context, msg RoomMessage)

// Bus is a no-op when constructed with an empty URL (single-instance mode):
// callers never need to nil-check before calling Publish/Subscribe.
type Bus struct {
	client     *redis.Client
	instanceID string
	cb         *gobreaker.CircuitBreaker
}

// New connects to redisURL. An empty redisURL returns a *Bus that no-ops on
// every call — the hub then runs in single-instance mode.
func New(redisURL, instanceID string) (*Bus, error) {
	if redisURL == "" {
		return &Bus{instanceID: instanceID}, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-bus",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(context.Background(), "circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Bus{client: client, instanceID: instanceID, cb: cb}, nil
}

func (b *Bus) enabled() bool { return b.client != nil }

func roomChannel(roomID string) string { return "room:" + roomID }

// Publish fans a message out to every other instance subscribed to
// roomID's channel. Errors are logged and swallowed: a missed cross-instance
// publish does not break the local room, only cross-instance convergence,
// which the CRDT's eventual-consistency contract tolerates on reconnect.
func (b *Bus) Publish(ctx context.Context, roomID string, kind, from string, payload json.RawMessage) {
	if !b.enabled() {
		return
	}
	msg := RoomMessage{InstanceID: b.instanceID, Kind: kind, From: from, Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(ctx, "bus: marshal failed", zap.Error(err))
		return
	}

	_, err = b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Publish(ctx, roomChannel(roomID), data).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			logging.Warn(ctx, "bus: circuit open, dropping publish", zap.String("room_id", roomID))
			return
		}
		logging.Error(ctx, "bus: publish failed", zap.Error(err))
	}
}

// Subscribe starts a background goroutine delivering messages from other
// instances on roomID's channel to handler, until ctx is cancelled. Returns
// immediately; the returned func unsubscribes.
func (b *Bus) Subscribe(ctx context.Context, roomID string, handler Handler) func() {
	if !b.enabled() {
		return func() {}
	}
	sub := b.client.Subscribe(ctx, roomChannel(roomID))
	ch := sub.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg RoomMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logging.Warn(ctx, "bus: bad message", zap.Error(err))
					continue
				}
				if msg.InstanceID == b.instanceID {
					continue // our own publish, already applied locally
				}
				handler(ctx, msg)
			}
		}
	}()

	return func() { _ = sub.Close() }
}

func (b *Bus) Close() error {
	if !b.enabled() {
		return nil
	}
	return b.client.Close()
}
