package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	backup "github.com/ToshihitoKon/slack-backup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	conf, opts, err := backup.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	level, err := backup.ParseLogLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	w, closeLog, err := backup.OpenLogOutput(opts.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	conf.Logger = backup.NewLogger(w, opts.LogFormat, level)
	slog.SetDefault(conf.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := backup.NewPipeline(ctx, conf)
	if err != nil {
		return err
	}

	if opts.Interval == "" || opts.Once {
		_, err := pipeline.Run(ctx)
		return err
	}

	interval, err := time.ParseDuration(opts.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		// A failed run is reported and retried on the next tick.
		_, _ = pipeline.Run(ctx)
		conf.Logger.Info("Next backup scheduled", "at", time.Now().Add(interval).Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
