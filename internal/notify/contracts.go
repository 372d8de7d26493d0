package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusFields carries the optional columns written alongside a status
// transition. Nil pointers leave the stored value untouched.
type StatusFields struct {
	SentAt       *time.Time
	DeliveredAt  *time.Time
	FailedAt     *time.Time
	ErrorMessage *string
	RetryCount   *int
}

// StatusCount is one row of a by-status aggregate.
type StatusCount struct {
	Status Status
	Count  int
}

// ChannelCount is one row of a by-channel aggregate, bucketed the way the
// analytics summary needs it: sent counts jobs in sent or delivered.
type ChannelCount struct {
	Channel   Channel
	Sent      int
	Delivered int
	Failed    int
}

// Store is the narrow persistence contract the core depends on. Jobs are
// never deleted; they are retained for analytics.
type Store interface {
	SaveRecipient(ctx context.Context, r *Recipient) error
	GetRecipient(ctx context.Context, id uuid.UUID) (*Recipient, error)
	GetAllRecipients(ctx context.Context) ([]*Recipient, error)
	UpdateOptIns(ctx context.Context, id uuid.UUID, optIns OptIns) error

	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// GetDueJobs returns up to limit jobs with status pending or queued and
	// scheduledFor <= now, ordered by priority descending, scheduledFor
	// ascending, then id ascending.
	GetDueJobs(ctx context.Context, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status Status, fields StatusFields) error
	QueryJobs(ctx context.Context, filter Filter, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context, filter Filter) ([]StatusCount, error)
	CountByChannel(ctx context.Context, filter Filter) ([]ChannelCount, error)
	// GetJobsSentBefore returns jobs in sent state whose sentAt is before
	// cutoff, for the optimistic delivery-confirmation pass.
	GetJobsSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
}

// SendOutcome is what a channel adapter reports back for one send attempt.
type SendOutcome struct {
	ProviderMessageID string
}

// ChannelAdapter is the capability contract for one delivery medium.
// Implementations call out to a provider and classify failures with the
// notify error taxonomy so the retry layers can tell transient from
// permanent.
type ChannelAdapter interface {
	Send(ctx context.Context, contact, body, subject string) (SendOutcome, error)
	ValidateContact(contact string) bool
}
