package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/dimiro1/banner"
	audioimpl "github.com/foxseedlab/vrchat-asr/external/audio"
	configloader "github.com/foxseedlab/vrchat-asr/external/config"
	discordimpl "github.com/foxseedlab/vrchat-asr/external/discord"
	oscimpl "github.com/foxseedlab/vrchat-asr/external/osc"
	recognizerimpl "github.com/foxseedlab/vrchat-asr/external/recognizer"
	repositoryimpl "github.com/foxseedlab/vrchat-asr/external/repository"
	translatorimpl "github.com/foxseedlab/vrchat-asr/external/translator"
	webhookimpl "github.com/foxseedlab/vrchat-asr/external/webhook"
	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

const version = "dev"

var settingPath string

var rootCmd = &cobra.Command{
	Use:           "vrchat-asr",
	Short:         "Speech recognition and translation for the VRChat chatbox",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingPath, "setting", "s", "setting.json", "path of the setting document")
	rootCmd.AddCommand(runCmd, serveCmd, devicesCmd, setupCmd, transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadSettings reads the setting document with environment overrides and
// configures logging from it.
func loadSettings() (config.Settings, error) {
	slog.Info("startup: loading configuration", "path", settingPath)
	cfg, err := configloader.Load(settingPath)
	if err != nil {
		return cfg, err
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "asr_provider", cfg.ASRProvider)
	return cfg, nil
}

func initLogger(cfg config.Settings) {
	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.IsDevelopment() || strings.EqualFold(cfg.LogFormat, "text") {
		logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(level),
		})
		slog.SetDefault(slog.New(logger))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func printBanner() {
	tpl := "{{ .Title \"vrchat-asr\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// setupDI builds one injector per settings snapshot. feed, when non-nil,
// receives every finalized line.
func setupDI(cfg config.Settings, feed chatbox.Sink) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	if feed != nil {
		do.ProvideNamedValue(injector, session.LiveFeedName, feed)
	}
	audioimpl.RegisterDI(injector)
	oscimpl.RegisterDI(injector)
	translatorimpl.RegisterDI(injector)
	discordimpl.RegisterDI(injector)
	recognizerimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func shutdownInjector(injector do.Injector) error {
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		return fmt.Errorf("shutdown dependencies: %s", report.Error())
	}
	return nil
}
