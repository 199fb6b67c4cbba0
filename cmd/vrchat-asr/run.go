package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/foxseedlab/vrchat-asr/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream the microphone to the chatbox until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		printBanner()

		slog.Info("startup: building dependency graph")
		injector := setupDI(cfg, nil)
		defer func() {
			if err := shutdownInjector(injector); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
		}()

		supervisor, err := do.Invoke[*session.Supervisor](injector)
		if err != nil {
			return fmt.Errorf("failed to resolve supervisor: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		slog.Info("startup: streaming", "micro_device_id", cfg.MicroDeviceID, "vrchat", cfg.OSCAddress())
		if err := supervisor.Run(ctx); err != nil {
			return err
		}
		slog.Info("shutting down")
		return nil
	},
}
