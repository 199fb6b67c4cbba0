package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/vrchat-asr/external/audio"
	configloader "github.com/foxseedlab/vrchat-asr/external/config"
	"github.com/foxseedlab/vrchat-asr/external/web"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/control"
	"github.com/foxseedlab/vrchat-asr/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

const workerShutdownTimeout = 15 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the settings panel and run the worker on demand",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadSettings()
		if err != nil {
			return err
		}
		printBanner()
		addr := cfg.WebListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}

		feed := web.NewFeed()
		store := configloader.NewFileStore(settingPath)
		ctrl := control.NewController(store, audioimpl.NewPortAudioSource(), func(settings config.Settings) (control.Runner, func() error, error) {
			injector := setupDI(settings, feed)
			supervisor, err := do.Invoke[*session.Supervisor](injector)
			if err != nil {
				_ = shutdownInjector(injector)
				return nil, nil, fmt.Errorf("failed to resolve supervisor: %w", err)
			}
			return supervisor, func() error { return shutdownInjector(injector) }, nil
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		serveErr := web.NewServer(ctrl, feed).ListenAndServe(ctx, addr)

		stopCtx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
		defer cancel()
		if ctrl.Status().Running {
			if err := ctrl.Stop(stopCtx); err != nil {
				slog.Error("failed to stop worker", "error", err)
			}
		}
		slog.Info("shutting down")
		return serveErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides web_listen_addr)")
}
