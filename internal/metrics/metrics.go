package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_jobs_created_total",
			Help: "Total notification jobs created by channel",
		},
		[]string{"channel"},
	)

	jobsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_jobs_skipped_total",
			Help: "Channels skipped at creation time by reason",
		},
		[]string{"channel", "reason"},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_dispatch_outcomes_total",
			Help: "Dispatch attempt outcomes by channel and resulting status",
		},
		[]string{"channel", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_dispatch_duration_seconds",
			Help:    "Time spent dispatching a single job, provider retries included",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	providerRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_provider_retries_total",
			Help: "In-process provider retry attempts by channel",
		},
		[]string{"channel"},
	)

	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_scheduler_ticks_total",
			Help: "Scheduler tick executions, manual triggers included",
		},
	)

	schedulerBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_scheduler_batch_size",
			Help:    "Due jobs picked up per scheduler tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50},
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJobCreated records a job creation event
func RecordJobCreated(channel string) {
	jobsCreated.WithLabelValues(channel).Inc()
}

// RecordJobSkipped records a channel skipped during job creation
func RecordJobSkipped(channel, reason string) {
	jobsSkipped.WithLabelValues(channel, reason).Inc()
}

// RecordDispatchOutcome records the resulting status of one dispatch attempt
func RecordDispatchOutcome(channel, status string) {
	dispatchOutcomes.WithLabelValues(channel, status).Inc()
}

// RecordDispatchDuration records time spent dispatching a single job
func RecordDispatchDuration(channel string, d time.Duration) {
	dispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordProviderRetry records an in-process retry against a provider
func RecordProviderRetry(channel string) {
	providerRetries.WithLabelValues(channel).Inc()
}

// RecordSchedulerTick records a scheduler tick and its batch size
func RecordSchedulerTick(batchSize int) {
	schedulerTicks.Inc()
	schedulerBatchSize.Observe(float64(batchSize))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
