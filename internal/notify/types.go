// Package notify defines the domain model and contracts for the
// notification dispatch core: jobs, recipients, channels, the persistence
// interface, and the channel adapter capability.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// Channels lists every supported channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelChat}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// Status is a job lifecycle state. Transitions are monotonic:
// pending -> queued -> sent -> delivered, with failed and cancelled as
// alternate terminals reachable from pending/queued.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusCancelled
}

// Priority is the scheduling weight used as the primary sort key when
// selecting due jobs.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank maps a priority to a sortable weight, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// OptIns holds a recipient's per-channel consent flags. A nil pointer on a
// Recipient means no consent record exists at all, which the opt-in gate
// treats according to its configured default policy.
type OptIns struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Chat  bool `json:"chat"`
}

// For returns the flag for the given channel.
func (o OptIns) For(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return o.Email
	case ChannelSMS:
		return o.SMS
	case ChannelChat:
		return o.Chat
	}
	return false
}

// Recipient is a person notifications can be addressed to. Contact fields
// are optional per channel; a recipient may lack a contact for a channel it
// opted into, and that combination is never dispatchable.
type Recipient struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	ChatHandle string    `json:"chat_handle,omitempty"`
	OptIns     *OptIns   `json:"opt_ins,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Contact returns the recipient's address for a channel, empty when unset.
func (r *Recipient) Contact(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	case ChannelChat:
		return r.ChatHandle
	}
	return ""
}

// Job is one queued unit of work: send one rendered template to one
// recipient over one channel. A multi-channel request fans out into one job
// per channel sharing the same template and variables. RecipientContact is
// captured at creation time and never re-resolved.
type Job struct {
	ID               uuid.UUID         `json:"id"`
	TemplateID       string            `json:"template_id"`
	Channel          Channel           `json:"channel"`
	RecipientID      uuid.UUID         `json:"recipient_id"`
	RecipientContact string            `json:"recipient_contact"`
	Status           Status            `json:"status"`
	Variables        map[string]string `json:"variables"`
	ScheduledFor     time.Time         `json:"scheduled_for"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time        `json:"delivered_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	RetryCount       int               `json:"retry_count"`
	MaxRetries       int               `json:"max_retries"`
	Priority         Priority          `json:"priority"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DefaultMaxRetries is the durable retry budget assigned to new jobs.
const DefaultMaxRetries = 3

// SendRequest asks for one logical notification to be delivered over one or
// more channels. ScheduledFor zero means dispatch on the next tick.
type SendRequest struct {
	TemplateID   string            `json:"template_id"`
	Channels     []Channel         `json:"channels"`
	RecipientID  uuid.UUID         `json:"recipient_id"`
	Variables    map[string]string `json:"variables"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Priority     Priority          `json:"priority,omitempty"`
}

// SendResult carries the partial-success outcome of a send request: ids of
// the jobs that were created plus one entry per channel that was skipped.
type SendResult struct {
	JobIDs []uuid.UUID `json:"job_ids"`
	Errors []string    `json:"errors,omitempty"`
}

// OK reports whether at least one job was created.
func (r *SendResult) OK() bool { return len(r.JobIDs) > 0 }

// Filter narrows job queries and aggregates. Zero values mean "any".
type Filter struct {
	Channel     Channel
	Status      Status
	TemplateID  string
	RecipientID uuid.UUID
	Start       time.Time
	End         time.Time
}
