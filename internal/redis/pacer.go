package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// ChannelLimit caps how many sends a channel may make per window.
type ChannelLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits reflects typical free-tier provider quotas.
var DefaultLimits = map[notify.Channel]ChannelLimit{
	notify.ChannelEmail: {Limit: 14, Window: time.Second},
	notify.ChannelSMS:   {Limit: 10, Window: time.Second},
	notify.ChannelChat:  {Limit: 20, Window: time.Second},
}

// retryPause is how long Wait sleeps before re-checking a full window.
const retryPause = 100 * time.Millisecond

// Pacer spaces dispatches per channel using a sliding window in Redis, so
// the cap holds across replicas sharing one Redis. Channels without a
// configured limit pass through unthrottled.
type Pacer struct {
	client *Client
	limits map[notify.Channel]ChannelLimit
	logger *zap.Logger
}

// NewPacer creates a pacer. Nil limits fall back to DefaultLimits.
func NewPacer(client *Client, limits map[notify.Channel]ChannelLimit, logger *zap.Logger) *Pacer {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Pacer{client: client, limits: limits, logger: logger}
}

// Wait blocks until the channel has quota for one more send, or until ctx
// is cancelled.
func (p *Pacer) Wait(ctx context.Context, ch notify.Channel) error {
	limit, ok := p.limits[ch]
	if !ok {
		return nil
	}

	for {
		allowed, err := p.allow(ctx, ch, limit)
		if err != nil {
			// A broken pacer must not stall dispatch.
			p.logger.Warn("pacer check failed, proceeding unthrottled", zap.Error(err))
			return nil
		}
		if allowed {
			return nil
		}

		p.logger.Debug("channel at rate limit, pausing",
			zap.String("channel", string(ch)),
		)
		timer := time.NewTimer(retryPause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// allow counts the current window with a sorted set and claims one slot if
// under the cap.
func (p *Pacer) allow(ctx context.Context, ch notify.Channel, limit ChannelLimit) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-limit.Window)
	key := fmt.Sprintf("pace:%s", ch)

	pipe := p.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis pipeline failed: %w", err)
	}

	if int(countCmd.Val()) >= limit.Limit {
		return false, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	pipe2 := p.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe2.Expire(ctx, key, limit.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis zadd failed: %w", err)
	}

	return true, nil
}
