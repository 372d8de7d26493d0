package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/notify"
)

// Memory is a mutex-guarded in-memory store used in dev mode and tests.
// It mirrors the Postgres store's semantics, including due-job ordering.
type Memory struct {
	mu         sync.RWMutex
	recipients map[uuid.UUID]*notify.Recipient
	jobs       map[uuid.UUID]*notify.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		recipients: make(map[uuid.UUID]*notify.Recipient),
		jobs:       make(map[uuid.UUID]*notify.Job),
	}
}

func (m *Memory) SaveRecipient(_ context.Context, r *notify.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.recipients[r.ID] = copyRecipient(r)
	return nil
}

func (m *Memory) GetRecipient(_ context.Context, id uuid.UUID) (*notify.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.recipients[id]
	if !ok {
		return nil, notify.Errorf(notify.CodeNotFound, "recipient not found: %s", id)
	}
	return copyRecipient(r), nil
}

func (m *Memory) GetAllRecipients(_ context.Context) ([]*notify.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*notify.Recipient, 0, len(m.recipients))
	for _, r := range m.recipients {
		out = append(out, copyRecipient(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateOptIns(_ context.Context, id uuid.UUID, optIns notify.OptIns) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recipients[id]
	if !ok {
		return notify.Errorf(notify.CodeNotFound, "recipient not found: %s", id)
	}
	o := optIns
	r.OptIns = &o
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SaveJob(_ context.Context, job *notify.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*notify.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, notify.Errorf(notify.CodeNotFound, "job not found: %s", id)
	}
	return copyJob(job), nil
}

func (m *Memory) GetDueJobs(_ context.Context, limit int) ([]*notify.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var due []*notify.Job
	for _, job := range m.jobs {
		if job.Status != notify.StatusPending && job.Status != notify.StatusQueued {
			continue
		}
		if job.ScheduledFor.After(now) {
			continue
		}
		due = append(due, copyJob(job))
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		return a.ID.String() < b.ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) GetJobsSentBefore(_ context.Context, cutoff time.Time, limit int) ([]*notify.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*notify.Job
	for _, job := range m.jobs {
		if job.Status != notify.StatusSent || job.SentAt == nil {
			continue
		}
		if job.SentAt.After(cutoff) {
			continue
		}
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentAt.Before(*out[j].SentAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateJobStatus(_ context.Context, id uuid.UUID, status notify.Status, fields notify.StatusFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return notify.Errorf(notify.CodeNotFound, "job not found: %s", id)
	}

	job.Status = status
	if fields.SentAt != nil {
		t := *fields.SentAt
		job.SentAt = &t
	}
	if fields.DeliveredAt != nil {
		t := *fields.DeliveredAt
		job.DeliveredAt = &t
	}
	if fields.FailedAt != nil {
		t := *fields.FailedAt
		job.FailedAt = &t
	}
	if fields.ErrorMessage != nil {
		job.ErrorMessage = *fields.ErrorMessage
	}
	if fields.RetryCount != nil {
		job.RetryCount = *fields.RetryCount
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) QueryJobs(_ context.Context, filter notify.Filter, limit int) ([]*notify.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*notify.Job
	for _, job := range m.jobs {
		if matchesFilter(job, filter) {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context, filter notify.Filter) ([]notify.StatusCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[notify.Status]int)
	for _, job := range m.jobs {
		if matchesFilter(job, filter) {
			counts[job.Status]++
		}
	}
	out := make([]notify.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, notify.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (m *Memory) CountByChannel(_ context.Context, filter notify.Filter) ([]notify.ChannelCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[notify.Channel]*notify.ChannelCount)
	for _, job := range m.jobs {
		if !matchesFilter(job, filter) {
			continue
		}
		c, ok := counts[job.Channel]
		if !ok {
			c = &notify.ChannelCount{Channel: job.Channel}
			counts[job.Channel] = c
		}
		switch job.Status {
		case notify.StatusSent:
			c.Sent++
		case notify.StatusDelivered:
			c.Sent++
			c.Delivered++
		case notify.StatusFailed:
			c.Failed++
		}
	}
	out := make([]notify.ChannelCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func matchesFilter(job *notify.Job, filter notify.Filter) bool {
	if filter.Channel != "" && job.Channel != filter.Channel {
		return false
	}
	if filter.Status != "" && job.Status != filter.Status {
		return false
	}
	if filter.TemplateID != "" && job.TemplateID != filter.TemplateID {
		return false
	}
	if filter.RecipientID != uuid.Nil && job.RecipientID != filter.RecipientID {
		return false
	}
	if !filter.Start.IsZero() && job.CreatedAt.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && job.CreatedAt.After(filter.End) {
		return false
	}
	return true
}

func copyRecipient(r *notify.Recipient) *notify.Recipient {
	c := *r
	if r.OptIns != nil {
		o := *r.OptIns
		c.OptIns = &o
	}
	return &c
}

func copyJob(job *notify.Job) *notify.Job {
	c := *job
	if job.Variables != nil {
		c.Variables = make(map[string]string, len(job.Variables))
		for k, v := range job.Variables {
			c.Variables[k] = v
		}
	}
	c.SentAt = copyTime(job.SentAt)
	c.DeliveredAt = copyTime(job.DeliveredAt)
	c.FailedAt = copyTime(job.FailedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
