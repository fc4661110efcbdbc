package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pts-reporter/internal/fetch"
	"pts-reporter/internal/logger"
	"pts-reporter/internal/notify"
	"pts-reporter/internal/pipeline"
	"pts-reporter/internal/server"
	"pts-reporter/internal/store"
	"pts-reporter/internal/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	_ = godotenv.Load()
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	cfg, err := store.LoadConfig(*configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		os.Exit(1)
	}

	token := os.Getenv("LINE_NOTIFY_TOKEN")
	if token == "" {
		logger.Error(ctx, "LINE_NOTIFY_TOKEN is not set")
		os.Exit(1)
	}

	notifyOpts := []notify.Option{
		notify.WithInlineImage(!cfg.Notify.SeparateImage),
		notify.WithRetryPolicy(fetch.RetryPolicy{
			Attempts: cfg.Notify.RetryAttempts,
			Base:     cfg.RetryBackoff(),
		}),
	}
	if cfg.Notify.Endpoint != "" {
		notifyOpts = append(notifyOpts, notify.WithEndpoint(cfg.Notify.Endpoint))
	}
	notifier, err := notify.NewClient(token, notifyOpts...)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build notifier", err)
		os.Exit(1)
	}

	client := fetch.NewClient(
		fetch.WithInterval(cfg.FetchInterval()),
		fetch.WithTimeout(cfg.FetchTimeout()),
		fetch.WithRetryPolicy(fetch.RetryPolicy{
			Attempts: cfg.Source.RetryAttempts,
			Base:     cfg.RetryBackoff(),
		}),
	)

	var (
		db   *store.SQLite
		opts []pipeline.Option
	)
	if cfg.Store.Path != "" {
		db, err = store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to open run store", err, "path", cfg.Store.Path)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		opts = append(opts, pipeline.WithRecorder(db))
	}

	p := pipeline.New(cfg, client, notifier, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(db, p).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(ctx, "Server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(context.Background(), "Server shutdown failed", err)
	}
}
