// Package api exposes the HTTP surface: notification submission and
// lifecycle, recipient consent management, template CRUD, analytics
// reports, and scheduler control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/analytics"
	"github.com/heraldhq/herald/internal/notify"
	"github.com/heraldhq/herald/internal/orchestrator"
	"github.com/heraldhq/herald/internal/redis"
	"github.com/heraldhq/herald/internal/scheduler"
	"github.com/heraldhq/herald/internal/template"
)

// Orchestrator is the job-lifecycle surface the handlers depend on.
type Orchestrator interface {
	Create(ctx context.Context, req notify.SendRequest) (*notify.SendResult, error)
	CreateBulk(ctx context.Context, req orchestrator.BulkRequest) (*notify.SendResult, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// SchedulerControl exposes the on-demand trigger and status snapshot.
type SchedulerControl interface {
	ProcessNow(ctx context.Context) (int, error)
	Status() scheduler.Status
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	orch        Orchestrator
	store       notify.Store
	templates   *template.Registry
	reports     *analytics.Aggregator
	sched       SchedulerControl
	idempotency *redis.Idempotency // nil if Redis not configured
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, orch Orchestrator, store notify.Store, templates *template.Registry, reports *analytics.Aggregator, sched SchedulerControl, idempotency *redis.Idempotency) *Handler {
	return &Handler{
		logger:      logger,
		orch:        orch,
		store:       store,
		templates:   templates,
		reports:     reports,
		sched:       sched,
		idempotency: idempotency,
	}
}

// CreateNotification handles POST /v1/notifications
// Supports dedup via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req notify.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.TemplateID == "" || req.RecipientID == uuid.Nil || len(req.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"template_id, recipient_id, and channels are required")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(cached)
			return
		}
	}

	result, err := h.orch.Create(ctx, req)
	if err != nil {
		if idempotencyKey != "" && h.idempotency != nil {
			h.idempotency.Release(ctx, idempotencyKey)
		}
		h.writeDomainError(w, err, "Failed to create notification")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		if err := h.idempotency.Store(ctx, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	status := http.StatusCreated
	if !result.OK() {
		// Every requested channel was refused.
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

// CreateBulkNotification handles POST /v1/notifications/bulk
func (h *Handler) CreateBulkNotification(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.TemplateID == "" || len(req.RecipientIDs) == 0 || len(req.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"template_id, recipient_ids, and channels are required")
		return
	}

	result, err := h.orch.CreateBulk(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err, "Failed to create notifications")
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to get notification")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// ListNotifications handles GET /v1/notifications with optional filters.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notify.Filter{
		Channel:    notify.Channel(q.Get("channel")),
		Status:     notify.Status(q.Get("status")),
		TemplateID: q.Get("template_id"),
	}
	if rid := q.Get("recipient_id"); rid != "" {
		id, err := uuid.Parse(rid)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
			return
		}
		filter.RecipientID = id
	}

	limit := 20
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	jobs, err := h.store.QueryJobs(r.Context(), filter, limit)
	if err != nil {
		h.writeDomainError(w, err, "Failed to list notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  jobs,
		"limit": limit,
		"count": len(jobs),
	})
}

// CancelNotification handles POST /v1/notifications/{id}/cancel
func (h *Handler) CancelNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.orch.Cancel(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "Failed to cancel notification")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": string(notify.StatusCancelled),
	})
}

// CreateRecipient handles POST /v1/recipients
func (h *Handler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	var recipient notify.Recipient
	if err := json.NewDecoder(r.Body).Decode(&recipient); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if recipient.Name == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name is required")
		return
	}
	if recipient.ID == uuid.Nil {
		recipient.ID = uuid.New()
	}

	if err := h.store.SaveRecipient(r.Context(), &recipient); err != nil {
		h.writeDomainError(w, err, "Failed to save recipient")
		return
	}

	h.logger.Info("recipient saved", zap.String("recipient_id", recipient.ID.String()))
	h.writeJSON(w, http.StatusCreated, recipient)
}

// GetRecipient handles GET /v1/recipients/{id}
func (h *Handler) GetRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	recipient, err := h.store.GetRecipient(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "Failed to get recipient")
		return
	}
	h.writeJSON(w, http.StatusOK, recipient)
}

// ListRecipients handles GET /v1/recipients
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.store.GetAllRecipients(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to list recipients")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  recipients,
		"count": len(recipients),
	})
}

// UpdateOptIns handles PATCH /v1/recipients/{id}/opt-ins
func (h *Handler) UpdateOptIns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var optIns notify.OptIns
	if err := json.NewDecoder(r.Body).Decode(&optIns); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.store.UpdateOptIns(r.Context(), id, optIns); err != nil {
		h.writeDomainError(w, err, "Failed to update opt-ins")
		return
	}

	h.logger.Info("opt-ins updated",
		zap.String("recipient_id", id.String()),
		zap.Bool("email", optIns.Email),
		zap.Bool("sms", optIns.SMS),
		zap.Bool("chat", optIns.Chat),
	)
	h.writeJSON(w, http.StatusOK, optIns)
}

// ListTemplates handles GET /v1/templates with an optional channel filter.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var templates []*template.Template
	if ch := r.URL.Query().Get("channel"); ch != "" {
		templates = h.templates.ByChannel(notify.Channel(ch))
	} else {
		templates = h.templates.All()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  templates,
		"count": len(templates),
	})
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tmpl, ok := h.templates.Template(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, tmpl)
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl template.Template
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if tmpl.ID == "" || tmpl.Body == "" || !tmpl.Channel.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"id, body, and a valid channel are required")
		return
	}
	if _, exists := h.templates.Template(tmpl.ID); exists {
		h.writeError(w, http.StatusConflict, "already_exists", "Template already exists", "")
		return
	}

	h.templates.Add(&tmpl)
	h.logger.Info("template created",
		zap.String("template_id", tmpl.ID),
		zap.String("channel", string(tmpl.Channel)),
	)
	h.writeJSON(w, http.StatusCreated, tmpl)
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in template.Template
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ok := h.templates.Update(id, func(t *template.Template) {
		if in.Name != "" {
			t.Name = in.Name
		}
		if in.Subject != "" {
			t.Subject = in.Subject
		}
		if in.Body != "" {
			t.Body = in.Body
		}
		if in.Variables != nil {
			t.Variables = in.Variables
		}
		t.Active = in.Active
	})
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}

	tmpl, _ := h.templates.Template(id)
	h.writeJSON(w, http.StatusOK, tmpl)
}

// DeleteTemplate handles DELETE /v1/templates/{id}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.templates.Delete(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAnalyticsSummary handles GET /v1/analytics/summary
func (h *Handler) GetAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	summary, err := h.reports.Summarize(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err, "Failed to compute summary")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetChannelPerformance handles GET /v1/analytics/channels
func (h *Handler) GetChannelPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.reports.ChannelPerformance(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to compute channel performance")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": perf})
}

// GetRecentActivity handles GET /v1/analytics/activity?days=7
func (h *Handler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 90 {
			days = d
		}
	}

	activity, err := h.reports.RecentActivity(r.Context(), days)
	if err != nil {
		h.writeDomainError(w, err, "Failed to compute activity")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": activity})
}

// GetHistory handles GET /v1/analytics/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	jobs, err := h.reports.History(r.Context(), filter, limit)
	if err != nil {
		h.writeDomainError(w, err, "Failed to load history")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  jobs,
		"count": len(jobs),
	})
}

// TriggerScheduler handles POST /v1/scheduler/process
func (h *Handler) TriggerScheduler(w http.ResponseWriter, r *http.Request) {
	processed, err := h.sched.ProcessNow(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to process due jobs")
		return
	}

	h.logger.Info("manual dispatch trigger", zap.Int("processed", processed))
	h.writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// GetSchedulerStatus handles GET /v1/scheduler/status
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (notify.Filter, bool) {
	q := r.URL.Query()
	filter := notify.Filter{
		Channel:    notify.Channel(q.Get("channel")),
		Status:     notify.Status(q.Get("status")),
		TemplateID: q.Get("template_id"),
	}
	if rid := q.Get("recipient_id"); rid != "" {
		id, err := uuid.Parse(rid)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
			return filter, false
		}
		filter.RecipientID = id
	}
	if startStr := q.Get("start"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start", "start must be RFC3339")
			return filter, false
		}
		filter.Start = start
	}
	if endStr := q.Get("end"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid end", "end must be RFC3339")
			return filter, false
		}
		filter.End = end
	}
	return filter, true
}

// writeDomainError maps the notify error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, title string) {
	switch notify.CodeOf(err) {
	case notify.CodeNotFound:
		h.writeError(w, http.StatusNotFound, "not_found", title, err.Error())
	case notify.CodeValidation, notify.CodeOptInDenied, notify.CodeMissingContact, notify.CodeInvalidContact:
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	default:
		h.logger.Error(title, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
