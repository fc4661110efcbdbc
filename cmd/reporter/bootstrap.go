package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"pts-reporter/internal/fetch"
	"pts-reporter/internal/logger"
	"pts-reporter/internal/notify"
	"pts-reporter/internal/pipeline"
	"pts-reporter/internal/store"
	"pts-reporter/internal/trace"
)

// initializeSystem initializes the logger and tracer.
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// buildFetchClient assembles the shared rate-gated HTTP client. All
// upstream traffic of a run goes through this one instance.
func buildFetchClient(cfg *store.Config) *fetch.Client {
	return fetch.NewClient(
		fetch.WithInterval(cfg.FetchInterval()),
		fetch.WithTimeout(cfg.FetchTimeout()),
		fetch.WithRetryPolicy(fetch.RetryPolicy{
			Attempts: cfg.Source.RetryAttempts,
			Base:     cfg.RetryBackoff(),
		}),
	)
}

// buildNotifier assembles the delivery client. The access token comes
// from the environment only; it never lives in the config file.
func buildNotifier(ctx context.Context, cfg *store.Config) (*notify.Client, error) {
	token := os.Getenv("LINE_NOTIFY_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("LINE_NOTIFY_TOKEN is not set")
	}

	opts := []notify.Option{
		notify.WithInlineImage(!cfg.Notify.SeparateImage),
		notify.WithRetryPolicy(fetch.RetryPolicy{
			Attempts: cfg.Notify.RetryAttempts,
			Base:     cfg.RetryBackoff(),
		}),
	}
	if cfg.Notify.Endpoint != "" {
		opts = append(opts, notify.WithEndpoint(cfg.Notify.Endpoint))
	}

	client, err := notify.NewClient(token, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Notifier ready", "separate_image", cfg.Notify.SeparateImage)
	return client, nil
}

// buildRecorder opens the run store when a path is configured. A
// missing store is not fatal: the run still delivers, it just is not
// persisted.
func buildRecorder(ctx context.Context, cfg *store.Config) (pipeline.Recorder, func()) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	db, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		logger.Warn(ctx, "Run store unavailable, continuing without persistence",
			"path", cfg.Store.Path, "error", err)
		return nil, nil
	}
	logger.Info(ctx, "Run store opened", "path", cfg.Store.Path)
	return db, func() { _ = db.Close() }
}
