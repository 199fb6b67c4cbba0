package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Recognize a raw PCM file in one call and print the text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}

		injector := setupDI(cfg, nil)
		defer func() {
			if err := shutdownInjector(injector); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
		}()
		streamer, err := do.Invoke[recognition.Streamer](injector)
		if err != nil {
			return fmt.Errorf("failed to resolve recognizer: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		result, err := recognition.Call(ctx, streamer, cfg.RecognitionParams(), args[0], cfg.TimeoutMatcher())
		if result != nil {
			for _, s := range result.Sentences {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d-%d ms] %s\n", s.BeginMs, s.EndMs, s.Text)
			}
			total := 0
			for _, u := range result.Usages {
				total += u.DurationSeconds
			}
			slog.Info("transcription finished", "sentences", len(result.Sentences), "billed_seconds", total)
		}
		if err != nil {
			return fmt.Errorf("transcribe %s: %w", args[0], err)
		}
		return nil
	},
}
