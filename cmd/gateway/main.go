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

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/alert"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/api"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/circuitbreaker"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/config"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/ingest"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/metrics"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/observ"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/redis"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/worker"
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

	logger.Info("starting fixer gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for webhook rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: time.Duration(cfg.RateLimitWindow) * time.Second,
		})
		defer redisClient.Close()
	}

	// Initialize the reasoning client. Diagnosis is the core of the
	// pipeline, so a missing API key is fatal.
	if cfg.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	client, err := diagnose.NewClient(diagnose.Config{
		APIKey:  cfg.AnthropicAPIKey,
		Model:   cfg.AnthropicModel,
		Timeout: time.Duration(cfg.DiagnoseTimeout) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create reasoning client: %w", err)
	}

	service := diagnose.NewService(client, logger)

	// Wrap the diagnoser with a circuit breaker so a dead reasoning API
	// fails records fast instead of stalling every webhook.
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("anthropic"), logger)
	diagnoser := circuitbreaker.NewProtectedDiagnoser(service, breaker, logger)

	// Initialize SES alert mailer (optional)
	var alerter ingest.Alerter
	if cfg.AlertsEnabled {
		mailer, err := alert.NewMailer(ctx, alert.Config{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES mailer unavailable, failure alerts disabled",
				zap.Error(err),
			)
		} else {
			alerter = mailer
		}
	}

	logger.Info("ingestion pipeline configured",
		zap.String("model", cfg.AnthropicModel),
		zap.Bool("alerts_enabled", alerter != nil),
		zap.Bool("rate_limiting_enabled", rateLimiter != nil),
	)

	pipeline := ingest.New(repo, diagnoser, alerter, logger)

	// Start the sweeper that recovers records stuck in pending
	sweeper := worker.New(repo, diagnoser, worker.Config{
		Interval: time.Duration(cfg.SweepInterval) * time.Second,
		Cutoff:   time.Duration(cfg.SweepCutoff) * time.Second,
	}, logger)

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	logger.Info("pending-record sweeper started",
		zap.Int("interval_seconds", cfg.SweepInterval),
		zap.Int("cutoff_seconds", cfg.SweepCutoff),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware. The request timeout must cover a full reasoning call.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(cfg.DiagnoseTimeout+15) * time.Second))
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

	handler := api.NewHandler(logger, repo, pipeline)

	// Webhook ingestion. The path matches what failure sources already
	// have configured, so it stays outside the /v1 namespace.
	r.Route("/api/webhook", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.ProjectKeyFunc))

		r.Post("/inngest", handler.HandleWebhook)
	})

	// Dashboard/read API
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Get("/failures", handler.ListFailures)
		r.Get("/failures/{id}", handler.GetFailure)

		r.Post("/projects", handler.CreateProject)
		r.Get("/projects", handler.ListProjects)
		r.Get("/projects/{id}", handler.GetProject)
		r.Delete("/projects/{id}", handler.DeleteProject)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. Write timeout leaves headroom over the in-request
	// diagnosis ceiling.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.DiagnoseTimeout+30) * time.Second,
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

		// Give outstanding requests time to finish their diagnosis calls
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
