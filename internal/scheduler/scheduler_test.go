package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
	"github.com/heraldhq/herald/internal/store"
)

// claimingDispatcher records dispatch order and mimics the orchestrator's
// queued claim so re-selection tests are meaningful.
type claimingDispatcher struct {
	mu    sync.Mutex
	store *store.Memory
	order []uuid.UUID
	errs  map[uuid.UUID]error
}

func (d *claimingDispatcher) Dispatch(ctx context.Context, job *notify.Job) error {
	d.mu.Lock()
	d.order = append(d.order, job.ID)
	err := d.errs[job.ID]
	d.mu.Unlock()
	if err != nil {
		return err
	}
	sentAt := time.Now().UTC()
	return d.store.UpdateJobStatus(ctx, job.ID, notify.StatusSent, notify.StatusFields{SentAt: &sentAt})
}

func (d *claimingDispatcher) dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uuid.UUID, len(d.order))
	copy(out, d.order)
	return out
}

type recordingPacer struct {
	mu       sync.Mutex
	channels []notify.Channel
}

func (p *recordingPacer) Wait(_ context.Context, ch notify.Channel) error {
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return nil
}

func saveJob(t *testing.T, mem *store.Memory, priority notify.Priority, scheduledFor time.Time) *notify.Job {
	t.Helper()
	job := &notify.Job{
		ID:               uuid.New(),
		TemplateID:       "order-confirm-email",
		Channel:          notify.ChannelEmail,
		RecipientID:      uuid.New(),
		RecipientContact: "user@example.com",
		Status:           notify.StatusPending,
		ScheduledFor:     scheduledFor,
		MaxRetries:       notify.DefaultMaxRetries,
		Priority:         priority,
	}
	if err := mem.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}
	return job
}

func testConfig() Config {
	return Config{
		Interval:      time.Hour, // ticks are driven manually in tests
		BatchSize:     50,
		InterJobPause: time.Millisecond,
		DeliveryGrace: 5 * time.Minute,
	}
}

func TestProcessNowDispatchesInPriorityOrder(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	s := New(mem, d, nil, testConfig(), zap.NewNop())

	past := time.Now().Add(-time.Minute)
	low := saveJob(t, mem, notify.PriorityLow, past)
	high := saveJob(t, mem, notify.PriorityHigh, past)
	normal := saveJob(t, mem, notify.PriorityNormal, past)

	n, err := s.ProcessNow(context.Background())
	if err != nil {
		t.Fatalf("process now: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 processed, got %d", n)
	}

	want := []uuid.UUID{high.ID, normal.ID, low.ID}
	got := d.dispatched()
	for i, id := range want {
		if got[i] != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i])
		}
	}
}

func TestProcessNowRespectsBatchSize(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	cfg := testConfig()
	cfg.BatchSize = 2
	s := New(mem, d, nil, cfg, zap.NewNop())

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		saveJob(t, mem, notify.PriorityNormal, past)
	}

	n, err := s.ProcessNow(context.Background())
	if err != nil {
		t.Fatalf("process now: %v", err)
	}
	if n != 2 {
		t.Errorf("expected batch of 2, got %d", n)
	}
}

func TestProcessNowSkipsFutureJobs(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	s := New(mem, d, nil, testConfig(), zap.NewNop())

	saveJob(t, mem, notify.PriorityHigh, time.Now().Add(time.Hour))

	n, err := s.ProcessNow(context.Background())
	if err != nil {
		t.Fatalf("process now: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 processed, got %d", n)
	}
}

func TestDispatchErrorDoesNotAbortBatch(t *testing.T) {
	mem := store.NewMemory()
	past := time.Now().Add(-time.Minute)
	d := &claimingDispatcher{store: mem, errs: map[uuid.UUID]error{}}
	s := New(mem, d, nil, testConfig(), zap.NewNop())

	bad := saveJob(t, mem, notify.PriorityHigh, past)
	good := saveJob(t, mem, notify.PriorityLow, past)
	d.errs[bad.ID] = notify.Errorf(notify.CodeProviderTransient, "boom")

	n, err := s.ProcessNow(context.Background())
	if err != nil {
		t.Fatalf("process now: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 processed, got %d", n)
	}
	got := d.dispatched()
	if len(got) != 2 || got[1] != good.ID {
		t.Errorf("second job not dispatched after failure: %v", got)
	}
}

func TestPacerConsultedBetweenJobs(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	pacer := &recordingPacer{}
	s := New(mem, d, pacer, testConfig(), zap.NewNop())

	past := time.Now().Add(-time.Minute)
	saveJob(t, mem, notify.PriorityNormal, past)
	saveJob(t, mem, notify.PriorityNormal, past)
	saveJob(t, mem, notify.PriorityNormal, past)

	if _, err := s.ProcessNow(context.Background()); err != nil {
		t.Fatalf("process now: %v", err)
	}
	// No pause after the final job.
	if len(pacer.channels) != 2 {
		t.Errorf("expected 2 pacer waits, got %d", len(pacer.channels))
	}
}

func TestConcurrentTriggersSerialize(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	s := New(mem, d, nil, testConfig(), zap.NewNop())

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 10; i++ {
		saveJob(t, mem, notify.PriorityNormal, past)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ProcessNow(context.Background()); err != nil {
				t.Errorf("process now: %v", err)
			}
		}()
	}
	wg.Wait()

	// Serialized ticks plus the dispatcher's sent transition mean no job
	// is dispatched twice.
	seen := map[uuid.UUID]int{}
	for _, id := range d.dispatched() {
		seen[id]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("job %s dispatched %d times", id, n)
		}
	}
}

func TestConfirmDeliveriesAfterGrace(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	d := &claimingDispatcher{store: mem}
	cfg := testConfig()
	cfg.DeliveryGrace = time.Minute
	s := New(mem, d, nil, cfg, zap.NewNop())

	old := saveJob(t, mem, notify.PriorityNormal, time.Now().Add(-time.Hour))
	oldSent := time.Now().Add(-10 * time.Minute)
	if err := mem.UpdateJobStatus(ctx, old.ID, notify.StatusSent, notify.StatusFields{SentAt: &oldSent}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	fresh := saveJob(t, mem, notify.PriorityNormal, time.Now().Add(-time.Hour))
	freshSent := time.Now()
	if err := mem.UpdateJobStatus(ctx, fresh.ID, notify.StatusSent, notify.StatusFields{SentAt: &freshSent}); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	if _, err := s.ProcessNow(ctx); err != nil {
		t.Fatalf("process now: %v", err)
	}

	got, _ := mem.GetJob(ctx, old.ID)
	if got.Status != notify.StatusDelivered {
		t.Errorf("expected old sent job promoted to delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("deliveredAt not recorded")
	}

	got, _ = mem.GetJob(ctx, fresh.ID)
	if got.Status != notify.StatusSent {
		t.Errorf("fresh sent job promoted too early: %s", got.Status)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	s := New(mem, d, nil, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let at least one tick happen.
	time.Sleep(25 * time.Millisecond)
	if st := s.Status(); !st.Running {
		t.Error("expected running status")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	if st := s.Status(); st.Running {
		t.Error("expected stopped status")
	}
}

func TestStatusCounters(t *testing.T) {
	mem := store.NewMemory()
	d := &claimingDispatcher{store: mem}
	s := New(mem, d, nil, testConfig(), zap.NewNop())

	past := time.Now().Add(-time.Minute)
	saveJob(t, mem, notify.PriorityNormal, past)
	saveJob(t, mem, notify.PriorityNormal, past)

	if _, err := s.ProcessNow(context.Background()); err != nil {
		t.Fatalf("process now: %v", err)
	}

	st := s.Status()
	if st.LastBatchSize != 2 {
		t.Errorf("expected last batch 2, got %d", st.LastBatchSize)
	}
	if st.TotalProcessed != 2 {
		t.Errorf("expected total 2, got %d", st.TotalProcessed)
	}
	if st.LastTick.IsZero() {
		t.Error("last tick not recorded")
	}
}
