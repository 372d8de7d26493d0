package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// Postgres implements notify.Store on top of a pgx pool.
type Postgres struct {
	db     *DB
	logger *zap.Logger
}

// NewPostgres creates the Postgres-backed store.
func NewPostgres(db *DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

const jobColumns = `
	id, template_id, channel, recipient_id, recipient_contact, status,
	variables, scheduled_for, sent_at, delivered_at, failed_at,
	error_message, retry_count, max_retries, priority, created_at, updated_at`

// priorityRank orders high before normal before low in SQL.
const priorityRank = `CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END`

// SaveRecipient inserts or updates a recipient.
func (p *Postgres) SaveRecipient(ctx context.Context, r *notify.Recipient) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	query := `
		INSERT INTO recipients (id, name, email, phone, chat_handle, opt_ins, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			chat_handle = EXCLUDED.chat_handle,
			opt_ins = EXCLUDED.opt_ins,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.Pool().Exec(ctx, query,
		r.ID, r.Name, r.Email, r.Phone, r.ChatHandle, r.OptIns, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save recipient: %w", err)
	}
	return nil
}

// GetRecipient retrieves a recipient by id.
func (p *Postgres) GetRecipient(ctx context.Context, id uuid.UUID) (*notify.Recipient, error) {
	query := `
		SELECT id, name, email, phone, chat_handle, opt_ins, created_at, updated_at
		FROM recipients WHERE id = $1
	`

	var r notify.Recipient
	err := p.db.Pool().QueryRow(ctx, query, id).Scan(
		&r.ID, &r.Name, &r.Email, &r.Phone, &r.ChatHandle, &r.OptIns, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notify.Errorf(notify.CodeNotFound, "recipient not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query recipient: %w", err)
	}
	return &r, nil
}

// GetAllRecipients returns every recipient, newest first.
func (p *Postgres) GetAllRecipients(ctx context.Context) ([]*notify.Recipient, error) {
	query := `
		SELECT id, name, email, phone, chat_handle, opt_ins, created_at, updated_at
		FROM recipients ORDER BY created_at DESC
	`

	rows, err := p.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*notify.Recipient
	for rows.Next() {
		var r notify.Recipient
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Email, &r.Phone, &r.ChatHandle, &r.OptIns, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, &r)
	}
	return recipients, rows.Err()
}

// UpdateOptIns replaces the recipient's consent record.
func (p *Postgres) UpdateOptIns(ctx context.Context, id uuid.UUID, optIns notify.OptIns) error {
	query := `UPDATE recipients SET opt_ins = $1, updated_at = $2 WHERE id = $3`

	result, err := p.db.Pool().Exec(ctx, query, optIns, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update opt-ins: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.Errorf(notify.CodeNotFound, "recipient not found: %s", id)
	}
	return nil
}

// SaveJob inserts a new job.
func (p *Postgres) SaveJob(ctx context.Context, job *notify.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO notification_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := p.db.Pool().Exec(ctx, query,
		job.ID, job.TemplateID, job.Channel, job.RecipientID, job.RecipientContact,
		job.Status, job.Variables, job.ScheduledFor, job.SentAt, job.DeliveredAt,
		job.FailedAt, nullableString(job.ErrorMessage), job.RetryCount, job.MaxRetries,
		job.Priority, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	p.logger.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
		zap.String("template_id", job.TemplateID),
	)
	return nil
}

// GetJob retrieves a job by id.
func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*notify.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE id = $1`

	job, err := scanJob(p.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notify.Errorf(notify.CodeNotFound, "job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// GetDueJobs selects due pending/queued jobs, highest priority and earliest
// due first, ties broken by id.
func (p *Postgres) GetDueJobs(ctx context.Context, limit int) ([]*notify.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE status IN ('pending', 'queued') AND scheduled_for <= NOW()
		ORDER BY ` + priorityRank + ` DESC, scheduled_for ASC, id ASC
		LIMIT $1
	`
	return p.queryJobs(ctx, query, limit)
}

// GetJobsSentBefore returns sent jobs whose sentAt is before cutoff.
func (p *Postgres) GetJobsSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*notify.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE status = 'sent' AND sent_at <= $1
		ORDER BY sent_at ASC
		LIMIT $2
	`
	return p.queryJobs(ctx, query, cutoff, limit)
}

// UpdateJobStatus writes a status transition plus any accompanying fields.
func (p *Postgres) UpdateJobStatus(ctx context.Context, id uuid.UUID, status notify.Status, fields notify.StatusFields) error {
	set := []string{"status = $1", "updated_at = $2"}
	args := []any{status, time.Now().UTC()}

	appendSet := func(col string, val any) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.SentAt != nil {
		appendSet("sent_at", *fields.SentAt)
	}
	if fields.DeliveredAt != nil {
		appendSet("delivered_at", *fields.DeliveredAt)
	}
	if fields.FailedAt != nil {
		appendSet("failed_at", *fields.FailedAt)
	}
	if fields.ErrorMessage != nil {
		appendSet("error_message", *fields.ErrorMessage)
	}
	if fields.RetryCount != nil {
		appendSet("retry_count", *fields.RetryCount)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE notification_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	result, err := p.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.Errorf(notify.CodeNotFound, "job not found: %s", id)
	}
	return nil
}

// QueryJobs returns jobs matching the filter, newest first.
func (p *Postgres) QueryJobs(ctx context.Context, filter notify.Filter, limit int) ([]*notify.Job, error) {
	where, args := filterClause(filter)
	args = append(args, limit)
	query := fmt.Sprintf(
		"SELECT %s FROM notification_jobs %s ORDER BY created_at DESC LIMIT $%d",
		jobColumns, where, len(args),
	)
	return p.queryJobs(ctx, query, args...)
}

// CountByStatus aggregates jobs matching the filter grouped by status.
func (p *Postgres) CountByStatus(ctx context.Context, filter notify.Filter) ([]notify.StatusCount, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(
		"SELECT status, COUNT(*) FROM notification_jobs %s GROUP BY status", where,
	)

	rows, err := p.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by status: %w", err)
	}
	defer rows.Close()

	var counts []notify.StatusCount
	for rows.Next() {
		var c notify.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountByChannel aggregates sent/delivered/failed per channel, where sent
// counts jobs in sent or delivered state.
func (p *Postgres) CountByChannel(ctx context.Context, filter notify.Filter) ([]notify.ChannelCount, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(`
		SELECT
			channel,
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered')),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_jobs %s GROUP BY channel`, where)

	rows, err := p.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by channel: %w", err)
	}
	defer rows.Close()

	var counts []notify.ChannelCount
	for rows.Next() {
		var c notify.ChannelCount
		if err := rows.Scan(&c.Channel, &c.Sent, &c.Delivered, &c.Failed); err != nil {
			return nil, fmt.Errorf("scan channel count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (p *Postgres) queryJobs(ctx context.Context, query string, args ...any) ([]*notify.Job, error) {
	rows, err := p.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*notify.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*notify.Job, error) {
	var job notify.Job
	var errMsg *string
	err := row.Scan(
		&job.ID, &job.TemplateID, &job.Channel, &job.RecipientID, &job.RecipientContact,
		&job.Status, &job.Variables, &job.ScheduledFor, &job.SentAt, &job.DeliveredAt,
		&job.FailedAt, &errMsg, &job.RetryCount, &job.MaxRetries,
		&job.Priority, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}

// filterClause builds a WHERE clause from the non-zero filter fields.
func filterClause(filter notify.Filter) (string, []any) {
	var conditions []string
	var args []any

	add := func(col string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.Channel != "" {
		add("channel", filter.Channel)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.TemplateID != "" {
		add("template_id", filter.TemplateID)
	}
	if filter.RecipientID != uuid.Nil {
		add("recipient_id", filter.RecipientID)
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
