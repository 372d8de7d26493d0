// Package scheduler drives periodic dispatch: it selects due jobs in
// priority order and feeds them to the orchestrator one at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/notify"
)

// Dispatcher is the claim-and-dispatch routine the scheduler feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *notify.Job) error
}

// Pacer spaces out sends to respect provider rate limits. The zero-value
// scheduler falls back to a fixed inter-job pause.
type Pacer interface {
	Wait(ctx context.Context, ch notify.Channel) error
}

// Config bounds the scheduler's work per tick.
type Config struct {
	Interval      time.Duration // tick period
	BatchSize     int           // max due jobs per tick
	InterJobPause time.Duration // pause between sequential dispatches
	DeliveryGrace time.Duration // sent jobs older than this are promoted to delivered
	GraceBatch    int           // max promotions per tick
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.InterJobPause == 0 {
		c.InterJobPause = 100 * time.Millisecond
	}
	if c.DeliveryGrace == 0 {
		c.DeliveryGrace = 5 * time.Minute
	}
	if c.GraceBatch == 0 {
		c.GraceBatch = 100
	}
}

// Status is a point-in-time snapshot of the scheduler's state.
type Status struct {
	Running        bool          `json:"running"`
	Interval       time.Duration `json:"interval"`
	LastTick       time.Time     `json:"last_tick"`
	LastBatchSize  int           `json:"last_batch_size"`
	TotalProcessed int           `json:"total_processed"`
}

// Scheduler runs the periodic tick. A mutex serializes the periodic tick
// and manual triggers so overlapping runs never select the same batch.
type Scheduler struct {
	store      notify.Store
	dispatcher Dispatcher
	pacer      Pacer
	config     Config
	logger     *zap.Logger

	mu             sync.Mutex // serializes tick execution
	stateMu        sync.RWMutex
	running        bool
	lastTick       time.Time
	lastBatchSize  int
	totalProcessed int
}

// New creates a scheduler. A nil pacer means fixed inter-job pauses.
func New(store notify.Store, dispatcher Dispatcher, pacer Pacer, cfg Config, logger *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		pacer:      pacer,
		config:     cfg,
		logger:     logger,
	}
}

// Run blocks, ticking every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.tick(ctx); err != nil {
				s.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// ProcessNow runs one tick on demand through the identical selection and
// dispatch path, returning how many jobs were processed.
func (s *Scheduler) ProcessNow(ctx context.Context) (int, error) {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, err := s.store.GetDueJobs(ctx, s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.RecordSchedulerTick(len(due))

	processed := 0
	for i, job := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logger.Error("dispatch failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
		processed++

		if i < len(due)-1 {
			if err := s.pause(ctx, job.Channel); err != nil {
				break
			}
		}
	}

	s.confirmDeliveries(ctx)

	s.stateMu.Lock()
	s.lastTick = time.Now().UTC()
	s.lastBatchSize = processed
	s.totalProcessed += processed
	s.stateMu.Unlock()

	if processed > 0 {
		s.logger.Info("tick complete", zap.Int("processed", processed))
	}
	return processed, nil
}

// pause spaces consecutive dispatches, preferring the pacer when one is
// configured.
func (s *Scheduler) pause(ctx context.Context, ch notify.Channel) error {
	if s.pacer != nil {
		return s.pacer.Wait(ctx, ch)
	}
	timer := time.NewTimer(s.config.InterJobPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// confirmDeliveries optimistically promotes sent jobs to delivered once
// the grace period has passed. No delivery-receipt channel exists for the
// configured providers, so age stands in for confirmation.
func (s *Scheduler) confirmDeliveries(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.DeliveryGrace)
	jobs, err := s.store.GetJobsSentBefore(ctx, cutoff, s.config.GraceBatch)
	if err != nil {
		s.logger.Error("delivery confirmation query failed", zap.Error(err))
		return
	}

	for _, job := range jobs {
		deliveredAt := time.Now().UTC()
		fields := notify.StatusFields{DeliveredAt: &deliveredAt}
		if err := s.store.UpdateJobStatus(ctx, job.ID, notify.StatusDelivered, fields); err != nil {
			s.logger.Error("delivery promotion failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordDispatchOutcome(string(job.Channel), string(notify.StatusDelivered))
	}
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return Status{
		Running:        s.running,
		Interval:       s.config.Interval,
		LastTick:       s.lastTick,
		LastBatchSize:  s.lastBatchSize,
		TotalProcessed: s.totalProcessed,
	}
}

func (s *Scheduler) setRunning(v bool) {
	s.stateMu.Lock()
	s.running = v
	s.stateMu.Unlock()
}
