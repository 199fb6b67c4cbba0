package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/charmbracelet/huh"
	audioimpl "github.com/foxseedlab/vrchat-asr/external/audio"
	configloader "github.com/foxseedlab/vrchat-asr/external/config"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write the setting document interactively",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := configloader.LoadFile(settingPath)
		if err != nil {
			return err
		}
		slog.Info("starting setup", "path", settingPath)

		port := strconv.Itoa(cfg.VRChatPort)
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("VRChat OSC address").
					Value(&cfg.VRChatIP),
				huh.NewInput().
					Title("VRChat OSC port").
					Value(&port).
					Validate(validatePort),
				deviceSelect(&cfg.MicroDeviceID),
			),
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Speech recognition service").
					Options(
						huh.NewOption("DashScope (paraformer)", config.ASRProviderDashScope),
						huh.NewOption("Google Cloud Speech", config.ASRProviderGoogle),
					).
					Value(&cfg.ASRProvider),
				huh.NewInput().
					Title("DashScope API key").
					Value(&cfg.APIKey),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Translate finalized sentences?").
					Value(&cfg.EnableTranslate),
				huh.NewInput().
					Title("Source language").
					Value(&cfg.SrcLang),
				huh.NewInput().
					Title("Target language").
					Value(&cfg.DstLang),
				huh.NewInput().
					Title("Alibaba Cloud AccessKey ID").
					Value(&cfg.AlicloudAccessKeyID),
				huh.NewInput().
					Title("Alibaba Cloud AccessKey secret").
					Value(&cfg.AlicloudAccessKeySecret),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("setup aborted: %w", err)
		}

		cfg.VRChatPort, _ = strconv.Atoi(port)
		if err := configloader.SaveFile(settingPath, cfg); err != nil {
			return fmt.Errorf("error saving configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			slog.Warn("setting document saved but still incomplete", "error", err)
		}
		slog.Info("setup completed", "path", settingPath)
		return nil
	},
}

func validatePort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("port must be within 1-65535")
	}
	return nil
}

// deviceSelect offers the input devices PortAudio reports, or a free
// number when they cannot be listed.
func deviceSelect(id *int) huh.Field {
	devices, err := audioimpl.NewPortAudioSource().InputDevices()
	if err != nil || len(devices) == 0 {
		slog.Warn("could not list input devices", "error", err)
		raw := strconv.Itoa(*id)
		return huh.NewInput().
			Title("Microphone device id").
			Value(&raw).
			Validate(func(value string) error {
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					return fmt.Errorf("device id must be a non-negative number")
				}
				*id = n
				return nil
			})
	}
	options := make([]huh.Option[int], 0, len(devices))
	for _, d := range devices {
		options = append(options, huh.NewOption(fmt.Sprintf("%d: %s", d.ID, d.Name), d.ID))
	}
	return huh.NewSelect[int]().
		Title("Microphone").
		Options(options...).
		Value(id)
}
