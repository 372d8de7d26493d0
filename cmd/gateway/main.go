package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/analytics"
	"github.com/heraldhq/herald/internal/api"
	"github.com/heraldhq/herald/internal/circuitbreaker"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/notify"
	"github.com/heraldhq/herald/internal/observ"
	"github.com/heraldhq/herald/internal/optin"
	"github.com/heraldhq/herald/internal/orchestrator"
	"github.com/heraldhq/herald/internal/redis"
	"github.com/heraldhq/herald/internal/scheduler"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/template"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herald gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	ctx := context.Background()

	// Job store: Postgres when configured, in-memory for local development.
	var jobStore notify.Store
	var database *store.DB
	if cfg.DBHost != "" {
		database, err = store.NewDB(ctx, store.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		jobStore = store.NewPostgres(database, logger)
		metrics.SetDBConnections(database.ActiveConnections())
	} else {
		jobStore = store.NewMemory()
		logger.Warn("no database configured, using in-memory store")
	}

	// Redis for dispatch pacing and request dedup, optional.
	var idempotency *redis.Idempotency
	var pacer scheduler.Pacer
	if cfg.RedisHost != "" {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, pacing and dedup disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			idempotency = redis.NewIdempotency(redisClient, logger)
			pacer = redis.NewPacer(redisClient, nil, logger)
			metrics.SetRedisConnections(redisClient.ActiveConnections())
		}
	}

	// Channel adapters, each wrapped with the transient-retry layer.
	adapters, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("channel adapters registered",
		zap.Int("channels", len(adapters.Channels())),
	)

	templates := template.NewRegistry()
	gate := &optin.Gate{AssumeOptedIn: cfg.AssumeOptedIn}
	if cfg.AssumeOptedIn {
		logger.Warn("legacy consent policy active: recipients without an opt-in record are treated as opted in")
	}

	orch := orchestrator.New(jobStore, templates, gate, adapters, logger)
	reports := analytics.New(jobStore, logger)

	sched := scheduler.New(jobStore, orch, pacer, scheduler.Config{
		Interval:      cfg.SchedulerInterval,
		BatchSize:     cfg.SchedulerBatch,
		DeliveryGrace: cfg.DeliveryGrace,
	}, logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go sched.Run(schedCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, orch, jobStore, templates, reports, sched, idempotency)
	r.Route("/v1", handler.Routes)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if database != nil {
			if err := database.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("database unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		schedCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildAdapters registers one adapter per channel: SES for email, SNS for
// SMS, the graph-API client for chat. Each provider is wrapped with
// immediate retries and a circuit breaker; the breaker sits outside the
// retry loop so a tripped circuit fails fast without burning backoff time.
// Dev mode swaps in logging adapters.
func buildAdapters(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*adapter.Registry, error) {
	adapters := adapter.NewRegistry()
	retryCfg := adapter.RetryConfig{}

	protect := func(ch notify.Channel, provider notify.ChannelAdapter) notify.ChannelAdapter {
		cfg := retryCfg
		cfg.Channel = ch
		cb := circuitbreaker.New(circuitbreaker.DefaultConfig(string(ch)), logger)
		return circuitbreaker.NewProtectedAdapter(adapter.WithRetry(provider, cfg, logger), cb, logger)
	}

	if cfg.DevMode {
		for _, ch := range notify.Channels {
			adapters.Register(ch, adapter.NewLog(ch, logger))
		}
		logger.Info("dev mode: all channels use logging adapters")
		return adapters, nil
	}

	ses, err := adapter.NewSES(ctx, adapter.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SES email adapter: %w", err)
	}
	adapters.Register(notify.ChannelEmail, protect(notify.ChannelEmail, ses))

	sns, err := adapter.NewSNS(ctx, adapter.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		logger.Warn("SNS adapter unavailable, SMS channel disabled", zap.Error(err))
	} else {
		adapters.Register(notify.ChannelSMS, protect(notify.ChannelSMS, sns))
	}

	if cfg.ChatAccessToken != "" {
		chat := adapter.NewChat(adapter.ChatConfig{
			BaseURL: cfg.ChatAPIURL,
			Token:   cfg.ChatAccessToken,
			Timeout: time.Duration(cfg.ChatTimeout) * time.Second,
		}, logger)
		adapters.Register(notify.ChannelChat, protect(notify.ChannelChat, chat))
	} else {
		logger.Warn("no chat access token, chat channel disabled")
	}

	return adapters, nil
}
