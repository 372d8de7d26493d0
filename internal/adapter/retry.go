package adapter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/notify"
)

// RetryConfig bounds the in-adapter immediate retry loop. This layer exists
// so short-lived provider blips resolve without consuming a durable retry
// slot; systemic outages fall through to the job-level retry.
type RetryConfig struct {
	Channel     notify.Channel // labels retry metrics, optional
	MaxAttempts int            // total attempts, including the first
	BaseDelay   time.Duration  // first backoff delay, doubled per attempt
}

// Retrying wraps a channel adapter with bounded exponential backoff for
// errors classified as transient. Permanent errors pass straight through.
type Retrying struct {
	inner  notify.ChannelAdapter
	config RetryConfig
	logger *zap.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps inner with the transient-retry layer.
func WithRetry(inner notify.ChannelAdapter, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	return &Retrying{
		inner:  inner,
		config: cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Send attempts the inner send, backing off 1x, 2x, 4x... the base delay
// between transient failures, up to MaxAttempts total attempts.
func (r *Retrying) Send(ctx context.Context, contact, body, subject string) (notify.SendOutcome, error) {
	var lastErr error

	delay := r.config.BaseDelay
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		outcome, err := r.inner.Send(ctx, contact, body, subject)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if !notify.IsTransient(err) {
			return notify.SendOutcome{}, err
		}

		if attempt < r.config.MaxAttempts {
			metrics.RecordProviderRetry(string(r.config.Channel))
			r.logger.Warn("transient send failure, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return notify.SendOutcome{}, err
			}
			delay *= 2
		}
	}

	return notify.SendOutcome{}, lastErr
}

// ValidateContact delegates to the wrapped adapter.
func (r *Retrying) ValidateContact(contact string) bool {
	return r.inner.ValidateContact(contact)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
