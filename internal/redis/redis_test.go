package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestPacerAllowsUnderLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	limits := map[notify.Channel]ChannelLimit{
		notify.ChannelEmail: {Limit: 3, Window: time.Second},
	}
	p := NewPacer(client, limits, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx, notify.ChannelEmail); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestPacerBlocksAtLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	limits := map[notify.Channel]ChannelLimit{
		notify.ChannelEmail: {Limit: 1, Window: time.Minute},
	}
	p := NewPacer(client, limits, zap.NewNop())

	if err := p.Wait(context.Background(), notify.ChannelEmail); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// The window is full for a minute; the second wait must block until
	// the context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, notify.ChannelEmail); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPacerUnlimitedChannelPassesThrough(t *testing.T) {
	client, _ := setupTestRedis(t)
	p := NewPacer(client, map[notify.Channel]ChannelLimit{}, zap.NewNop())

	for i := 0; i < 100; i++ {
		if err := p.Wait(context.Background(), notify.ChannelChat); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestPacerWindowExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	limits := map[notify.Channel]ChannelLimit{
		notify.ChannelSMS: {Limit: 1, Window: 100 * time.Millisecond},
	}
	p := NewPacer(client, limits, zap.NewNop())
	ctx := context.Background()

	if err := p.Wait(ctx, notify.ChannelSMS); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// Let the window pass so the slot frees up.
	mr.FastForward(time.Second)
	time.Sleep(150 * time.Millisecond)

	if err := p.Wait(ctx, notify.ChannelSMS); err != nil {
		t.Fatalf("wait after window: %v", err)
	}
}

func TestIdempotencyNewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	idem := NewIdempotency(client, zap.NewNop())

	result, err := idem.CheckOrReserve(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyInFlightDuplicate(t *testing.T) {
	client, _ := setupTestRedis(t)
	idem := NewIdempotency(client, zap.NewNop())
	ctx := context.Background()

	if _, err := idem.CheckOrReserve(ctx, "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := idem.CheckOrReserve(ctx, "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyCachedResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	idem := NewIdempotency(client, zap.NewNop())
	ctx := context.Background()

	if _, err := idem.CheckOrReserve(ctx, "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	jobID := uuid.New()
	stored := &notify.SendResult{JobIDs: []uuid.UUID{jobID}}
	if err := idem.Store(ctx, "key-1", stored); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := idem.CheckOrReserve(ctx, "key-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got == nil || len(got.JobIDs) != 1 || got.JobIDs[0] != jobID {
		t.Errorf("expected cached result with job %s, got %+v", jobID, got)
	}
}

func TestIdempotencyRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	idem := NewIdempotency(client, zap.NewNop())
	ctx := context.Background()

	if _, err := idem.CheckOrReserve(ctx, "key-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	idem.Release(ctx, "key-1")

	result, err := idem.CheckOrReserve(ctx, "key-1")
	if err != nil {
		t.Fatalf("expected key reusable after release, got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
}
