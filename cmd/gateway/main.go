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

	"github.com/unablepath/memospark-notify/internal/api"
	"github.com/unablepath/memospark-notify/internal/backend"
	"github.com/unablepath/memospark-notify/internal/circuitbreaker"
	"github.com/unablepath/memospark-notify/internal/config"
	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/metrics"
	"github.com/unablepath/memospark-notify/internal/observ"
	"github.com/unablepath/memospark-notify/internal/probe"
	redisx "github.com/unablepath/memospark-notify/internal/redis"
	"github.com/unablepath/memospark-notify/internal/scheduler"
	"github.com/unablepath/memospark-notify/internal/sender"
	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/stats"
	"github.com/unablepath/memospark-notify/internal/store"
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

	logger.Info("starting notify gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// Redis backs settings/stats persistence, rate limiting, and the
	// worker transport. Without it the gateway still runs: state lives
	// in memory and only the foreground timer delivers.
	redisClient, err := redisx.New(ctx, redisx.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, running with in-memory state only",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var kv store.KV
	var rateLimiter *redisx.RateLimiter
	if redisClient != nil {
		kv = redisx.NewBlobStore(redisClient, "notify")
		if cfg.RateLimitPerMinute > 0 {
			rateLimiter = redisx.NewRateLimiter(redisClient, logger, redisx.RateLimitConfig{
				Limit:  cfg.RateLimitPerMinute,
				Window: 1 * time.Minute,
			})
		}
		defer redisClient.Close()
	} else {
		kv = store.NewMemory()
	}

	// Delivery history is optional; without Postgres, outcomes are only
	// visible through stats, logs, and metrics.
	var repo *history.Repository
	database, err := history.New(ctx, history.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("database unavailable, delivery history disabled",
			zap.Error(err),
		)
	} else {
		repo = history.NewRepository(database, logger)
		defer database.Close()
	}

	settingsStore := settings.NewStore(kv, logger)
	statsRecorder := stats.NewRecorder(kv, logger, nil)

	// Senders per channel. The local sender always works, so delivery
	// is always supported.
	localSender := sender.NewLocalSender(logger, 0)
	senders := []sender.Sender{localSender}

	if cfg.PushAppID != "" && cfg.PushAPIKey != "" {
		pushSender := sender.NewPushSender(sender.PushConfig{
			APIURL: cfg.PushAPIURL,
			AppID:  cfg.PushAppID,
			APIKey: cfg.PushAPIKey,
		}, logger)
		breaker := circuitbreaker.New(circuitbreaker.Config{Name: "push-vendor"}, logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(pushSender, breaker, logger))
	} else {
		logger.Warn("push vendor not configured, push channel falls back to logging")
		senders = append(senders, sender.NewLogSender(logger))
	}

	if sesSender, err := sender.NewSESSender(ctx, sender.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger); err != nil {
		logger.Warn("SES sender unavailable, email channel disabled", zap.Error(err))
	} else {
		senders = append(senders, sesSender)
	}

	if cfg.SNSEnabled {
		if snsSender, err := sender.NewSNSSender(ctx, sender.SNSConfig{
			Region: cfg.AWSRegion,
		}, logger); err != nil {
			logger.Warn("SNS sender unavailable, mobile push channel disabled", zap.Error(err))
		} else {
			senders = append(senders, snsSender)
		}
	}

	multiSender := sender.NewMultiSender(logger, senders...)

	permProbe := probe.New(kv, logger, true, nil)

	sched := scheduler.New(
		settingsStore,
		statsRecorder,
		permProbe,
		nil, // backends attached below, they need the scheduler's hooks
		multiSender,
		repo,
		scheduler.Config{
			MaxQueueSize:  cfg.MaxQueueSize,
			SweepInterval: cfg.SweepInterval,
			StaleAfter:    cfg.StaleAfter,
		},
		logger,
		nil,
	)

	foreground := backend.NewForegroundTimer(multiSender, sched.ForegroundHooks(), logger, nil)

	backends := []backend.DeliveryBackend{}
	var background *backend.BackgroundWorker
	if redisClient != nil {
		background = backend.NewBackgroundWorker(redisClient, backend.BackgroundConfig{
			AckTimeout: cfg.WorkerAckTimeout,
		}, sched.BackgroundHooks(), logger)
		backends = append(backends, background)
	}
	backends = append(backends, foreground)
	sched.SetBackends(backends)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go sched.Start(schedCtx)
	if background != nil {
		go background.ListenEvents(schedCtx)
	}

	logger.Info("scheduler started",
		zap.Bool("background_backend", background != nil),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
	)

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

	// API routes
	handler := api.NewHandler(logger, sched, settingsStore, statsRecorder, permProbe, repo, localSender)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		r.Post("/notifications", handler.ScheduleNotification)
		r.Get("/notifications", handler.ListNotifications)
		r.Delete("/notifications", handler.CancelAllNotifications)
		r.Delete("/notifications/{id}", handler.CancelNotification)

		r.Post("/events", handler.ReportEvent)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/settings", handler.GetSettings)
			r.Put("/settings", handler.UpdateSettings)
			r.Get("/stats", handler.GetStats)
			r.Get("/permission", handler.GetPermission)
			r.Put("/permission", handler.SetPermission)
			r.Post("/permission/request", handler.RequestPermission)
			r.Get("/history", handler.GetHistory)
			r.Get("/feed", handler.GetFeed)
		})
	})

	// Health check
	r.Get("/health", handler.Health)

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
