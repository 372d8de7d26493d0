package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

const (
	// IdempotencyTTL is how long a client-provided request key retains its
	// cached result for explicit dedup control.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL is the lock duration while a request is in flight.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates a request key collision with an in-flight
// request.
var ErrDuplicateRequest = errors.New("duplicate request: key already in flight")

// Idempotency deduplicates send requests carrying a client request key, so
// a network retry of "send this notification" does not create jobs twice.
type Idempotency struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotency creates the idempotency cache.
func NewIdempotency(client *Client, logger *zap.Logger) *Idempotency {
	return &Idempotency{client: client, logger: logger}
}

func requestKey(key string) string {
	return fmt.Sprintf("request:%s", key)
}

// CheckOrReserve returns the cached result for a seen request key, or
// reserves the key and returns nil so the caller may proceed. A key held
// by an in-flight request yields ErrDuplicateRequest.
func (s *Idempotency) CheckOrReserve(ctx context.Context, key string) (*notify.SendResult, error) {
	val, err := s.client.rdb.Get(ctx, requestKey(key)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if err == nil {
		if val == processingMarker {
			return nil, ErrDuplicateRequest
		}
		var result notify.SendResult
		if err := json.Unmarshal([]byte(val), &result); err != nil {
			return nil, fmt.Errorf("invalid cached result: %w", err)
		}
		s.logger.Debug("request served from idempotency cache",
			zap.String("request_key", key),
		)
		return &result, nil
	}

	set, err := s.client.rdb.SetNX(ctx, requestKey(key), processingMarker, processingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return nil, ErrDuplicateRequest
	}
	return nil, nil
}

// Store caches the outcome of a completed request under its key.
func (s *Idempotency) Store(ctx context.Context, key string, result *notify.SendResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.rdb.Set(ctx, requestKey(key), data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed request so the client can
// retry with the same key.
func (s *Idempotency) Release(ctx context.Context, key string) {
	if err := s.client.rdb.Del(ctx, requestKey(key)).Err(); err != nil {
		s.logger.Warn("failed to release request key",
			zap.String("request_key", key),
			zap.Error(err),
		)
	}
}
