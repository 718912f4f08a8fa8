package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/circuitbreaker"
	"github.com/unablepath/memospark-notify/internal/config"
	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/observ"
	redisx "github.com/unablepath/memospark-notify/internal/redis"
	"github.com/unablepath/memospark-notify/internal/sender"
	"github.com/unablepath/memospark-notify/internal/worker"
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

	logger.Info("starting notify worker",
		zap.String("env", cfg.Env),
	)

	ctx := context.Background()

	// The worker owns the durable queue; without Redis there is nothing
	// for it to do.
	redisClient, err := redisx.New(ctx, redisx.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	// Delivery history is optional.
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

	// Senders. The worker has no in-process display, so the local
	// channel is not wired here; locally delivered notifications stay on
	// the foreground timer in the gateway.
	var senders []sender.Sender

	if cfg.PushAppID != "" && cfg.PushAPIKey != "" {
		pushSender := sender.NewPushSender(sender.PushConfig{
			APIURL: cfg.PushAPIURL,
			AppID:  cfg.PushAppID,
			APIKey: cfg.PushAPIKey,
		}, logger)
		breaker := circuitbreaker.New(circuitbreaker.Config{Name: "push-vendor"}, logger)
		senders = append(senders, circuitbreaker.NewProtectedSender(pushSender, breaker, logger))
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

	if len(senders) == 0 {
		logger.Warn("no delivery channels configured, logging sends instead")
		senders = append(senders, sender.NewLogSender(logger))
	}

	multiSender := sender.NewMultiSender(logger, senders...)

	w := worker.New(redisClient, multiSender, repo, worker.Config{
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		StaleAfter:   cfg.StaleAfter,
		HeartbeatTTL: cfg.HeartbeatTTL,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Start(workerCtx)
		close(done)
	}()

	logger.Info("worker started",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("heartbeat_ttl", cfg.HeartbeatTTL),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	<-done

	logger.Info("worker stopped gracefully")
	return nil
}
