// Package orchestrator owns the notification job lifecycle: creating jobs
// from send requests, claiming and dispatching due jobs, and applying the
// durable retry policy.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/notify"
	"github.com/heraldhq/herald/internal/optin"
	"github.com/heraldhq/herald/internal/template"
)

// Orchestrator creates jobs and drives them through the state machine.
// It is the only component that mutates jobs after creation.
type Orchestrator struct {
	store     notify.Store
	templates template.Source
	gate      *optin.Gate
	adapters  *adapter.Registry
	logger    *zap.Logger

	now func() time.Time
}

// New wires an orchestrator. Adapters in the registry are expected to carry
// their own transient-retry layer.
func New(store notify.Store, templates template.Source, gate *optin.Gate, adapters *adapter.Registry, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		templates: templates,
		gate:      gate,
		adapters:  adapters,
		logger:    logger,
		now:       time.Now,
	}
}

// BulkRequest fans one template out to many recipients. PerRecipient
// variables override the shared set for that recipient only.
type BulkRequest struct {
	TemplateID   string                          `json:"template_id"`
	Channels     []notify.Channel                `json:"channels"`
	RecipientIDs []uuid.UUID                     `json:"recipient_ids"`
	Variables    map[string]string               `json:"variables"`
	PerRecipient map[uuid.UUID]map[string]string `json:"per_recipient,omitempty"`
	ScheduledFor time.Time                       `json:"scheduled_for"`
	Priority     notify.Priority                 `json:"priority,omitempty"`
}

// Create turns a send request into pending jobs, one per permitted channel.
// Channels denied by the opt-in gate or unsupported by the template are
// reported in the result without aborting the rest.
func (o *Orchestrator) Create(ctx context.Context, req notify.SendRequest) (*notify.SendResult, error) {
	tmpl, ok := o.templates.Template(req.TemplateID)
	if !ok {
		return nil, notify.Errorf(notify.CodeNotFound, "template not found: %s", req.TemplateID)
	}
	if !tmpl.Active {
		return nil, notify.Errorf(notify.CodeValidation, "template is inactive: %s", req.TemplateID)
	}
	if len(req.Channels) == 0 {
		return nil, notify.Errorf(notify.CodeValidation, "no channels requested")
	}

	recipient, err := o.store.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = o.now().UTC()
	}
	priority := req.Priority
	if priority == "" {
		priority = notify.PriorityNormal
	}

	result := &notify.SendResult{}
	for _, ch := range req.Channels {
		if !ch.Valid() {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: unknown channel", ch))
			metrics.RecordJobSkipped(string(ch), string(notify.CodeValidation))
			continue
		}
		if !tmpl.Supports(ch) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: template %s does not support channel", ch, tmpl.ID))
			metrics.RecordJobSkipped(string(ch), string(notify.CodeValidation))
			continue
		}
		if denial := o.gate.Denial(recipient, ch); denial != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", ch, denial.Msg))
			metrics.RecordJobSkipped(string(ch), string(denial.Code))
			continue
		}

		job := &notify.Job{
			ID:               uuid.New(),
			TemplateID:       tmpl.ID,
			Channel:          ch,
			RecipientID:      recipient.ID,
			RecipientContact: recipient.Contact(ch),
			Status:           notify.StatusPending,
			Variables:        req.Variables,
			ScheduledFor:     scheduledFor,
			MaxRetries:       notify.DefaultMaxRetries,
			Priority:         priority,
		}
		if err := o.store.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("persist job: %w", err)
		}
		result.JobIDs = append(result.JobIDs, job.ID)
		metrics.RecordJobCreated(string(ch))
	}

	return result, nil
}

// CreateBulk runs Create once per recipient, merging shared and
// per-recipient variables. Failures for one recipient do not abort the
// others; their reasons are folded into the combined result.
func (o *Orchestrator) CreateBulk(ctx context.Context, req BulkRequest) (*notify.SendResult, error) {
	if len(req.RecipientIDs) == 0 {
		return nil, notify.Errorf(notify.CodeValidation, "no recipients requested")
	}

	combined := &notify.SendResult{}
	for _, rid := range req.RecipientIDs {
		vars := make(map[string]string, len(req.Variables))
		for k, v := range req.Variables {
			vars[k] = v
		}
		for k, v := range req.PerRecipient[rid] {
			vars[k] = v
		}

		res, err := o.Create(ctx, notify.SendRequest{
			TemplateID:   req.TemplateID,
			Channels:     req.Channels,
			RecipientID:  rid,
			Variables:    vars,
			ScheduledFor: req.ScheduledFor,
			Priority:     req.Priority,
		})
		if err != nil {
			combined.Errors = append(combined.Errors, fmt.Sprintf("recipient %s: %v", rid, err))
			continue
		}
		combined.JobIDs = append(combined.JobIDs, res.JobIDs...)
		for _, e := range res.Errors {
			combined.Errors = append(combined.Errors, fmt.Sprintf("recipient %s: %s", rid, e))
		}
	}
	return combined, nil
}

// Dispatch claims a due job and drives one delivery attempt. Both the
// periodic tick and the on-demand trigger funnel through here, so the
// persisted queued claim is enforced in exactly one place.
func (o *Orchestrator) Dispatch(ctx context.Context, job *notify.Job) error {
	if job.Status != notify.StatusPending && job.Status != notify.StatusQueued {
		return notify.Errorf(notify.CodeValidation, "job %s is not dispatchable in state %s", job.ID, job.Status)
	}

	// Claim first. Persisting queued takes the job out of the due-job
	// selection before the external send begins.
	if job.Status == notify.StatusPending {
		if err := o.store.UpdateJobStatus(ctx, job.ID, notify.StatusQueued, notify.StatusFields{}); err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		job.Status = notify.StatusQueued
	}

	start := o.now()
	logger := o.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
		zap.String("template_id", job.TemplateID),
	)

	tmpl, ok := o.templates.Template(job.TemplateID)
	if !ok {
		return o.failPermanently(ctx, job, logger, fmt.Sprintf("template not found: %s", job.TemplateID))
	}

	rendered := template.Render(tmpl, job.Variables)
	if len(rendered.MissingVariables) > 0 {
		return o.failPermanently(ctx, job, logger,
			"missing required variables: "+strings.Join(rendered.MissingVariables, ", "))
	}

	ad, err := o.adapters.Adapter(job.Channel)
	if err != nil {
		// A channel with no registered adapter is a configuration fault,
		// not a provider blip.
		return o.failPermanently(ctx, job, logger, err.Error())
	}

	if !ad.ValidateContact(job.RecipientContact) {
		return o.failPermanently(ctx, job, logger,
			fmt.Sprintf("invalid %s contact: %s", job.Channel, job.RecipientContact))
	}

	outcome, err := ad.Send(ctx, job.RecipientContact, rendered.Body, rendered.Subject)
	metrics.RecordDispatchDuration(string(job.Channel), o.now().Sub(start))
	if err != nil {
		return o.recordFailure(ctx, job, logger, err)
	}

	sentAt := o.now().UTC()
	if err := o.store.UpdateJobStatus(ctx, job.ID, notify.StatusSent, notify.StatusFields{SentAt: &sentAt}); err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}
	job.Status = notify.StatusSent
	job.SentAt = &sentAt

	logger.Info("job sent",
		zap.String("provider_message_id", outcome.ProviderMessageID),
		zap.Int("retry_count", job.RetryCount),
	)
	metrics.RecordDispatchOutcome(string(job.Channel), string(notify.StatusSent))
	return nil
}

// recordFailure applies the durable retry policy: consume one retry slot
// and revert to pending, or mark failed once the budget is spent. Provider
// errors, transient or permanent, are treated identically at this layer.
func (o *Orchestrator) recordFailure(ctx context.Context, job *notify.Job, logger *zap.Logger, sendErr error) error {
	job.RetryCount++
	msg := sendErr.Error()

	if job.RetryCount < job.MaxRetries {
		fields := notify.StatusFields{
			ErrorMessage: &msg,
			RetryCount:   &job.RetryCount,
		}
		if err := o.store.UpdateJobStatus(ctx, job.ID, notify.StatusPending, fields); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		job.Status = notify.StatusPending
		job.ErrorMessage = msg

		logger.Warn("send failed, job requeued",
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(sendErr),
		)
		metrics.RecordDispatchOutcome(string(job.Channel), string(notify.StatusPending))
		return nil
	}

	failedAt := o.now().UTC()
	fields := notify.StatusFields{
		FailedAt:     &failedAt,
		ErrorMessage: &msg,
		RetryCount:   &job.RetryCount,
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, notify.StatusFailed, fields); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	job.Status = notify.StatusFailed
	job.FailedAt = &failedAt
	job.ErrorMessage = msg

	logger.Error("job failed, retry budget exhausted",
		zap.Int("retry_count", job.RetryCount),
		zap.Error(sendErr),
	)
	metrics.RecordDispatchOutcome(string(job.Channel), string(notify.StatusFailed))
	return nil
}

// failPermanently marks a job failed without consuming retry slots, for
// faults a retry cannot fix: render errors, invalid contacts, missing
// templates, unregistered channels.
func (o *Orchestrator) failPermanently(ctx context.Context, job *notify.Job, logger *zap.Logger, msg string) error {
	failedAt := o.now().UTC()
	fields := notify.StatusFields{
		FailedAt:     &failedAt,
		ErrorMessage: &msg,
	}
	if err := o.store.UpdateJobStatus(ctx, job.ID, notify.StatusFailed, fields); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	job.Status = notify.StatusFailed
	job.FailedAt = &failedAt
	job.ErrorMessage = msg

	logger.Error("job failed permanently", zap.String("reason", msg))
	metrics.RecordDispatchOutcome(string(job.Channel), string(notify.StatusFailed))
	return nil
}

// Cancel pulls a job out of pending before dispatch. Jobs in any other
// state cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != notify.StatusPending {
		return notify.Errorf(notify.CodeValidation, "job %s cannot be cancelled in state %s", id, job.Status)
	}
	if err := o.store.UpdateJobStatus(ctx, id, notify.StatusCancelled, notify.StatusFields{}); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	o.logger.Info("job cancelled", zap.String("job_id", id.String()))
	return nil
}
