// Package analytics derives delivery reports from job history. Nothing
// here is persisted; every report is computed from the store on demand.
package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// activityScanLimit bounds how many jobs one activity report will read.
const activityScanLimit = 10000

// Summary is the aggregate view over a filtered job set. Opt-in rates are
// computed over the recipient set, not the job set.
type Summary struct {
	TotalSent      int                        `json:"total_sent"`
	TotalDelivered int                        `json:"total_delivered"`
	TotalFailed    int                        `json:"total_failed"`
	TotalPending   int                        `json:"total_pending"`
	ByStatus       map[notify.Status]int      `json:"by_status"`
	ByChannel      []ChannelPerformance       `json:"by_channel"`
	OptInRates     map[notify.Channel]float64 `json:"opt_in_rates"`
}

// ChannelPerformance is one channel's delivery record. Sent counts jobs
// that reached sent or delivered.
type ChannelPerformance struct {
	Channel      notify.Channel `json:"channel"`
	Sent         int            `json:"sent"`
	Delivered    int            `json:"delivered"`
	Failed       int            `json:"failed"`
	DeliveryRate float64        `json:"delivery_rate"`
}

// DailyActivity is one day's bucket of job history, keyed by creation day.
type DailyActivity struct {
	Date    string `json:"date"` // YYYY-MM-DD
	Created int    `json:"created"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// Aggregator computes reports from the job store.
type Aggregator struct {
	store  notify.Store
	logger *zap.Logger
}

// New creates an aggregator.
func New(store notify.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Summarize computes the full aggregate view for the filtered job set.
func (a *Aggregator) Summarize(ctx context.Context, filter notify.Filter) (*Summary, error) {
	statusCounts, err := a.store.CountByStatus(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	summary := &Summary{
		ByStatus:   make(map[notify.Status]int, len(statusCounts)),
		OptInRates: make(map[notify.Channel]float64, len(notify.Channels)),
	}
	for _, c := range statusCounts {
		summary.ByStatus[c.Status] = c.Count
		switch c.Status {
		case notify.StatusSent:
			summary.TotalSent += c.Count
		case notify.StatusDelivered:
			summary.TotalSent += c.Count
			summary.TotalDelivered += c.Count
		case notify.StatusFailed:
			summary.TotalFailed += c.Count
		case notify.StatusPending, notify.StatusQueued:
			summary.TotalPending += c.Count
		}
	}

	summary.ByChannel, err = a.channelPerformance(ctx, filter)
	if err != nil {
		return nil, err
	}

	rates, err := a.optInRates(ctx)
	if err != nil {
		return nil, err
	}
	summary.OptInRates = rates

	return summary, nil
}

// History returns the filtered job history, newest first.
func (a *Aggregator) History(ctx context.Context, filter notify.Filter, limit int) ([]*notify.Job, error) {
	if limit <= 0 || limit > activityScanLimit {
		limit = 100
	}
	return a.store.QueryJobs(ctx, filter, limit)
}

// ChannelPerformance reports per-channel sent/delivered/failed counts and
// the delivery rate over all history.
func (a *Aggregator) ChannelPerformance(ctx context.Context) ([]ChannelPerformance, error) {
	return a.channelPerformance(ctx, notify.Filter{})
}

func (a *Aggregator) channelPerformance(ctx context.Context, filter notify.Filter) ([]ChannelPerformance, error) {
	counts, err := a.store.CountByChannel(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count by channel: %w", err)
	}

	out := make([]ChannelPerformance, 0, len(counts))
	for _, c := range counts {
		perf := ChannelPerformance{
			Channel:   c.Channel,
			Sent:      c.Sent,
			Delivered: c.Delivered,
			Failed:    c.Failed,
		}
		// Zero sent means rate exactly 0, never NaN.
		if c.Sent > 0 {
			perf.DeliveryRate = float64(c.Delivered) / float64(c.Sent) * 100
		}
		out = append(out, perf)
	}
	return out, nil
}

// RecentActivity buckets the last `days` days of job history by creation
// day, oldest first. Days with no activity are present with zero counts.
func (a *Aggregator) RecentActivity(ctx context.Context, days int) ([]DailyActivity, error) {
	if days <= 0 {
		days = 7
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	jobs, err := a.store.QueryJobs(ctx, notify.Filter{Start: start}, activityScanLimit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}

	buckets := make(map[string]*DailyActivity, days)
	out := make([]DailyActivity, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		out[i] = DailyActivity{Date: date}
		buckets[date] = &out[i]
	}

	for _, job := range jobs {
		b, ok := buckets[job.CreatedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		b.Created++
		switch job.Status {
		case notify.StatusSent, notify.StatusDelivered:
			b.Sent++
		case notify.StatusFailed:
			b.Failed++
		}
	}

	return out, nil
}

// optInRates computes, per channel, the fraction of all recipients whose
// opt-in flag is set. Recipients with no consent record count as not
// opted in.
func (a *Aggregator) optInRates(ctx context.Context) (map[notify.Channel]float64, error) {
	recipients, err := a.store.GetAllRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}

	rates := make(map[notify.Channel]float64, len(notify.Channels))
	if len(recipients) == 0 {
		for _, ch := range notify.Channels {
			rates[ch] = 0
		}
		return rates, nil
	}

	for _, ch := range notify.Channels {
		optedIn := 0
		for _, r := range recipients {
			if r.OptIns != nil && r.OptIns.For(ch) {
				optedIn++
			}
		}
		rates[ch] = float64(optedIn) / float64(len(recipients))
	}
	return rates, nil
}
