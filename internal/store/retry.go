package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/logging"
)

// maxRetries bounds the capped exponential backoff applied to transient
// persistence errors: 5 attempts, doubling from 50ms.
const maxRetries = 5

// retryBreaker trips once touch_room/record_leave are failing consistently,
// so a database outage fails each retry loop fast instead of still running
// every doubling backoff against a Postgres that is already down.
var retryBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "store-retry",
	MaxRequests: 3,
	Interval:    30 * time.Second,
	Timeout:     10 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures > 5
	},
})

// RetryTouchRoom retries TouchRoom silently in the background. Errors past
// the retry budget are logged, never propagated — a missed touch only
// delays idle-room detection, it does not corrupt state.
func RetryTouchRoom(ctx context.Context, repo Repository, id string, now time.Time) {
	retryInBackground(ctx, "touch_room", func(ctx context.Context) error {
		return repo.TouchRoom(ctx, id, now)
	})
}

// RetryRecordLeave retries RecordLeave silently, same rationale.
func RetryRecordLeave(ctx context.Context, repo Repository, clientID string, now time.Time) {
	retryInBackground(ctx, "record_leave", func(ctx context.Context) error {
		return repo.RecordLeave(ctx, clientID, now)
	})
}

func retryInBackground(ctx context.Context, op string, fn func(context.Context) error) {
	go func() {
		backoff := 50 * time.Millisecond
		for attempt := 1; attempt <= maxRetries; attempt++ {
			_, err := retryBreaker.Execute(func() (interface{}, error) {
				return nil, fn(ctx)
			})
			if err == nil {
				return
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				logging.Warn(ctx, "persistence retry skipped, breaker open", zap.String("op", op))
				return
			}
			if attempt == maxRetries {
				logging.Error(ctx, "persistence retry exhausted", zap.String("op", op), zap.Error(err))
				return
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}
	}()
}
