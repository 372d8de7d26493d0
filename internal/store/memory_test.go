package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/notify"
)

func newJob(status notify.Status, priority notify.Priority, scheduledFor time.Time) *notify.Job {
	return &notify.Job{
		ID:               uuid.New(),
		TemplateID:       "order-confirm-email",
		Channel:          notify.ChannelEmail,
		RecipientID:      uuid.New(),
		RecipientContact: "user@example.com",
		Status:           status,
		Variables:        map[string]string{"name": "Dana"},
		ScheduledFor:     scheduledFor,
		MaxRetries:       notify.DefaultMaxRetries,
		Priority:         priority,
	}
}

func TestMemoryGetDueJobsOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	past := time.Now().Add(-time.Minute)

	lowEarly := newJob(notify.StatusPending, notify.PriorityLow, past.Add(-time.Hour))
	highLate := newJob(notify.StatusPending, notify.PriorityHigh, past)
	normalEarly := newJob(notify.StatusQueued, notify.PriorityNormal, past.Add(-time.Hour))
	normalLate := newJob(notify.StatusPending, notify.PriorityNormal, past)
	future := newJob(notify.StatusPending, notify.PriorityHigh, time.Now().Add(time.Hour))
	sent := newJob(notify.StatusSent, notify.PriorityHigh, past)

	for _, job := range []*notify.Job{lowEarly, highLate, normalEarly, normalLate, future, sent} {
		if err := m.SaveJob(ctx, job); err != nil {
			t.Fatalf("save job: %v", err)
		}
	}

	due, err := m.GetDueJobs(ctx, 10)
	if err != nil {
		t.Fatalf("get due jobs: %v", err)
	}

	want := []uuid.UUID{highLate.ID, normalEarly.ID, normalLate.ID, lowEarly.ID}
	if len(due) != len(want) {
		t.Fatalf("expected %d due jobs, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, due[i].ID)
		}
	}
}

func TestMemoryGetDueJobsLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	past := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		if err := m.SaveJob(ctx, newJob(notify.StatusPending, notify.PriorityNormal, past)); err != nil {
			t.Fatalf("save job: %v", err)
		}
	}

	due, err := m.GetDueJobs(ctx, 2)
	if err != nil {
		t.Fatalf("get due jobs: %v", err)
	}
	if len(due) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(due))
	}
}

func TestMemoryUpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := newJob(notify.StatusPending, notify.PriorityNormal, time.Now())
	if err := m.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}

	sentAt := time.Now().UTC()
	retries := 2
	fields := notify.StatusFields{SentAt: &sentAt, RetryCount: &retries}
	if err := m.UpdateJobStatus(ctx, job.ID, notify.StatusSent, fields); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := m.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != notify.StatusSent {
		t.Errorf("expected status sent, got %s", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(sentAt) {
		t.Errorf("expected sentAt %v, got %v", sentAt, got.SentAt)
	}
	if got.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", got.RetryCount)
	}

	// Fields not named stay untouched.
	msg := "provider timeout"
	if err := m.UpdateJobStatus(ctx, job.ID, notify.StatusFailed, notify.StatusFields{ErrorMessage: &msg}); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ = m.GetJob(ctx, job.ID)
	if got.SentAt == nil {
		t.Error("sentAt was cleared by an unrelated update")
	}
	if got.ErrorMessage != msg {
		t.Errorf("expected error message %q, got %q", msg, got.ErrorMessage)
	}
}

func TestMemoryUpdateJobStatusNotFound(t *testing.T) {
	m := NewMemory()
	err := m.UpdateJobStatus(context.Background(), uuid.New(), notify.StatusSent, notify.StatusFields{})
	if notify.CodeOf(err) != notify.CodeNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestMemoryQueryJobsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	email := newJob(notify.StatusSent, notify.PriorityNormal, time.Now())
	sms := newJob(notify.StatusFailed, notify.PriorityNormal, time.Now())
	sms.Channel = notify.ChannelSMS
	sms.TemplateID = "order-confirm-sms"
	for _, job := range []*notify.Job{email, sms} {
		if err := m.SaveJob(ctx, job); err != nil {
			t.Fatalf("save job: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter notify.Filter
		want   int
	}{
		{"no filter", notify.Filter{}, 2},
		{"by channel", notify.Filter{Channel: notify.ChannelSMS}, 1},
		{"by status", notify.Filter{Status: notify.StatusSent}, 1},
		{"by template", notify.Filter{TemplateID: "order-confirm-sms"}, 1},
		{"by recipient", notify.Filter{RecipientID: email.RecipientID}, 1},
		{"no match", notify.Filter{Channel: notify.ChannelChat}, 0},
		{"window excludes all", notify.Filter{End: time.Now().Add(-time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.QueryJobs(ctx, tt.filter, 0)
			if err != nil {
				t.Fatalf("query jobs: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d jobs, got %d", tt.want, len(got))
			}
		})
	}
}

func TestMemoryCountByChannel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	jobs := []*notify.Job{
		newJob(notify.StatusSent, notify.PriorityNormal, time.Now()),
		newJob(notify.StatusDelivered, notify.PriorityNormal, time.Now()),
		newJob(notify.StatusFailed, notify.PriorityNormal, time.Now()),
		newJob(notify.StatusPending, notify.PriorityNormal, time.Now()),
	}
	for _, job := range jobs {
		if err := m.SaveJob(ctx, job); err != nil {
			t.Fatalf("save job: %v", err)
		}
	}

	counts, err := m.CountByChannel(ctx, notify.Filter{})
	if err != nil {
		t.Fatalf("count by channel: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(counts))
	}
	c := counts[0]
	if c.Channel != notify.ChannelEmail {
		t.Errorf("expected email channel, got %s", c.Channel)
	}
	// Delivered jobs still count as sent.
	if c.Sent != 2 || c.Delivered != 1 || c.Failed != 1 {
		t.Errorf("expected sent=2 delivered=1 failed=1, got %+v", c)
	}
}

func TestMemoryCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := newJob(notify.StatusPending, notify.PriorityNormal, time.Now())
	if err := m.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}

	got, _ := m.GetJob(ctx, job.ID)
	got.Variables["name"] = "mutated"
	got.Status = notify.StatusFailed

	again, _ := m.GetJob(ctx, job.ID)
	if again.Variables["name"] != "Dana" {
		t.Error("stored variables were mutated through a returned copy")
	}
	if again.Status != notify.StatusPending {
		t.Error("stored status was mutated through a returned copy")
	}
}

func TestMemoryRecipients(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r := &notify.Recipient{
		ID:    uuid.New(),
		Name:  "Dana",
		Email: "dana@example.com",
	}
	if err := m.SaveRecipient(ctx, r); err != nil {
		t.Fatalf("save recipient: %v", err)
	}

	got, err := m.GetRecipient(ctx, r.ID)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.OptIns != nil {
		t.Error("expected no consent record on a fresh recipient")
	}

	if err := m.UpdateOptIns(ctx, r.ID, notify.OptIns{Email: true}); err != nil {
		t.Fatalf("update opt-ins: %v", err)
	}
	got, _ = m.GetRecipient(ctx, r.ID)
	if got.OptIns == nil || !got.OptIns.Email || got.OptIns.SMS {
		t.Errorf("expected email-only opt-in, got %+v", got.OptIns)
	}

	if _, err := m.GetRecipient(ctx, uuid.New()); notify.CodeOf(err) != notify.CodeNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}
