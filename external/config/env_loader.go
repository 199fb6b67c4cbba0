package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/vrchat-asr/internal/config"
)

type envConfig struct {
	Env                     string `env:"ENV" envDefault:"production"`
	LogLevel                string `env:"LOG_LEVEL"`
	LogFormat               string `env:"LOG_FORMAT"`
	DashScopeAPIKey         string `env:"DASHSCOPE_API_KEY"`
	AlicloudAccessKeyID     string `env:"ALIBABA_CLOUD_ACCESS_KEY_ID"`
	AlicloudAccessKeySecret string `env:"ALIBABA_CLOUD_ACCESS_KEY_SECRET"`
	GoogleCredentialsJSON   string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleProjectID         string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleTranslateAPIKey   string `env:"GOOGLE_TRANSLATE_API_KEY"`
	DatabaseURL             string `env:"DATABASE_URL"`
	DiscordToken            string `env:"DISCORD_TOKEN"`
	TranscriptWebhookURL    string `env:"TRANSCRIPT_WEBHOOK_URL"`
}

// ApplyEnv overlays process environment variables on settings. Empty
// variables leave the file value in place.
func ApplyEnv(settings internalconfig.Settings) (internalconfig.Settings, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return settings, fmt.Errorf("environment variables are invalid: %w", err)
	}

	return settings.With(func(s *internalconfig.Settings) {
		s.Env = raw.Env
		override(&s.LogLevel, raw.LogLevel)
		override(&s.LogFormat, raw.LogFormat)
		override(&s.APIKey, raw.DashScopeAPIKey)
		override(&s.AlicloudAccessKeyID, raw.AlicloudAccessKeyID)
		override(&s.AlicloudAccessKeySecret, raw.AlicloudAccessKeySecret)
		override(&s.GoogleCredentialsJSON, raw.GoogleCredentialsJSON)
		override(&s.GoogleProjectID, raw.GoogleProjectID)
		override(&s.GoogleTranslateAPIKey, raw.GoogleTranslateAPIKey)
		override(&s.DatabaseURL, raw.DatabaseURL)
		override(&s.DiscordToken, raw.DiscordToken)
		override(&s.TranscriptWebhookURL, raw.TranscriptWebhookURL)
	}), nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Load reads the setting file and applies environment overrides.
func Load(path string) (internalconfig.Settings, error) {
	settings, err := LoadFile(path)
	if err != nil {
		return settings, err
	}
	return ApplyEnv(settings)
}
