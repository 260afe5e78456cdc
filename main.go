package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-transcripts/cmd"
	"github.com/dhcgn/mbox-to-transcripts/config"
	"github.com/dhcgn/mbox-to-transcripts/namemap"
	"github.com/dhcgn/mbox-to-transcripts/progress"
	"github.com/dhcgn/mbox-to-transcripts/runner"
	"github.com/dhcgn/mbox-to-transcripts/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mbox-to-transcripts [mbox file]",
		Short: "Convert the chat records of a mail archive into per-person plain-text transcripts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
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
			logger.Info("starting mbox-to-transcripts", "mbox", cfg.MboxPath, "dataDir", cfg.DataDir, "wrap", !cfg.NoWrap)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	cmd.Register(rootCmd)

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
	stats.NewReporter(r, logger)

	bar := progress.New(cfg.Progress, cfg.LogLevel)
	progress.NewProgressReporter(r, bar, logger)

	pipeline, err := runner.NewPipeline(r, bar)
	if err != nil {
		return fmt.Errorf("runner.NewPipeline: %w", err)
	}

	if err := r.Start(); err != nil {
		return err
	}

	if pipeline.NameMapCreated() {
		pterm.Println()
		pterm.Info.Println(namemap.Notice(cfg.Paths().NameMap))
	}
	return nil
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

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbox-to-transcripts-%s.log", time.Now().Format("20060102T150405")))
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
