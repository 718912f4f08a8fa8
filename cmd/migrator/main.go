// Command migrator applies the delivery history schema.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/config"
	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	database, err := history.New(ctx, history.Config{
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

	if _, err := database.Pool().Exec(ctx, history.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("schema applied", zap.String("database", cfg.DBName))
	return nil
}
