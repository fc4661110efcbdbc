package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pts-reporter/internal/logger"
	"pts-reporter/internal/pipeline"
	"pts-reporter/internal/trace"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer shutdownTracer()

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		os.Exit(1)
	}

	notifier, err := buildNotifier(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build notifier", err)
		os.Exit(1)
	}

	opts := []pipeline.Option{}
	if rec, closeRec := buildRecorder(ctx, cfg); rec != nil {
		defer closeRec()
		opts = append(opts, pipeline.WithRecorder(rec))
	}

	p := pipeline.New(cfg, buildFetchClient(cfg), notifier, opts...)
	outcome := p.RunOnce(ctx)

	if !outcome.Succeeded {
		os.Exit(1)
	}
}

func shutdownTracer() {
	if err := trace.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tracer shutdown: %v\n", err)
	}
}
