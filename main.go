package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/msg-to-eml/config"
	"github.com/dhcgn/msg-to-eml/output"
	"github.com/dhcgn/msg-to-eml/progress"
	"github.com/dhcgn/msg-to-eml/runner"
	"github.com/dhcgn/msg-to-eml/stats"
	"github.com/dhcgn/msg-to-eml/walker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "msg-to-eml",
		Short: "Convert Outlook .msg files into standards-compliant .eml files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting msg-to-eml", "in", cfg.InputPath, "out", cfg.OutDir, "bundle", cfg.Bundle, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(newInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)

	walkerOpts := walker.Options{
		Path:      cfg.InputPath,
		Recursive: cfg.Recursive,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
	}

	total, err := walker.CountSources(walkerOpts)
	if err != nil {
		return fmt.Errorf("walker.CountSources: %w", err)
	}

	bar := progress.New(total, 0, cfg.LogLevel)
	progress.NewProgressReporter(r, bar, logger)
	defer bar.Stop()

	if _, err := walker.NewProducer(walkerOpts, r, logger); err != nil {
		return fmt.Errorf("walker.NewProducer: %w", err)
	}

	sinkOpts := output.Options{
		Dir:     cfg.OutDir,
		Bundle:  output.Bundle(cfg.Bundle),
		Workers: cfg.Workers,
		DryRun:  cfg.DryRun,
	}

	if _, err := output.NewSink(sinkOpts, r, logger); err != nil {
		return fmt.Errorf("output.NewSink: %w", err)
	}

	runErr := r.Start()

	if summary := reporter.Summary(); summary.Errors > 0 {
		logger.Warn("run finished with per-file errors", summary.LogAttrs()...)
	}

	return runErr
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("msg-to-eml-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
