package api

import "github.com/go-chi/chi/v5"

// Routes mounts every handler under the given router, expected to be the
// /v1 subtree.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/notifications", h.CreateNotification)
	r.Post("/notifications/bulk", h.CreateBulkNotification)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Post("/notifications/{id}/cancel", h.CancelNotification)

	r.Post("/recipients", h.CreateRecipient)
	r.Get("/recipients", h.ListRecipients)
	r.Get("/recipients/{id}", h.GetRecipient)
	r.Patch("/recipients/{id}/opt-ins", h.UpdateOptIns)

	r.Get("/templates", h.ListTemplates)
	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates/{id}", h.GetTemplate)
	r.Put("/templates/{id}", h.UpdateTemplate)
	r.Delete("/templates/{id}", h.DeleteTemplate)

	r.Get("/analytics/summary", h.GetAnalyticsSummary)
	r.Get("/analytics/channels", h.GetChannelPerformance)
	r.Get("/analytics/activity", h.GetRecentActivity)
	r.Get("/analytics/history", h.GetHistory)

	r.Post("/scheduler/process", h.TriggerScheduler)
	r.Get("/scheduler/status", h.GetSchedulerStatus)
}
