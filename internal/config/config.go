package config

import (
	"fmt"
	"net"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
)

const (
	ASRProviderDashScope = "dashscope"
	ASRProviderGoogle    = "google"

	TranslateProviderAlimt  = "alimt"
	TranslateProviderGoogle = "google"

	AudioDriverPortAudio = "portaudio"
	AudioDriverFFmpeg    = "ffmpeg"
)

// Settings is an immutable snapshot of the persisted setting document.
// Callers pass it by value; use With to derive a modified copy.
type Settings struct {
	Env string `json:"-" mapstructure:"-"`

	DarkMode bool `json:"dark_mode" mapstructure:"dark_mode"`

	VRChatIP           string `json:"vrchat_ip" mapstructure:"vrchat_ip"`
	VRChatPort         int    `json:"vrchat_port" mapstructure:"vrchat_port"`
	OSCBypassKeyboard  bool   `json:"osc_bypass_keyboard" mapstructure:"osc_bypass_keyboard"`
	OSCEnableSFX       bool   `json:"osc_enableSFX" mapstructure:"osc_enableSFX"`
	OSCTypingIndicator bool   `json:"osc_typing_indicator" mapstructure:"osc_typing_indicator"`

	EnableTranslate               bool   `json:"enable_translate" mapstructure:"enable_translate"`
	SrcLang                       string `json:"src_lang" mapstructure:"src_lang"`
	DstLang                       string `json:"dst_lang" mapstructure:"dst_lang"`
	TranslateProvider             string `json:"translate_provider" mapstructure:"translate_provider"`
	TranslateFallbackUntranslated bool   `json:"translate_fallback_untranslated" mapstructure:"translate_fallback_untranslated"`
	TranslateReadTimeoutMs        int    `json:"translate_read_timeout_ms" mapstructure:"translate_read_timeout_ms"`
	TranslateConnectTimeoutMs     int    `json:"translate_connect_timeout_ms" mapstructure:"translate_connect_timeout_ms"`
	AlicloudAccessKeyID           string `json:"alicloud_access_key_id" mapstructure:"alicloud_access_key_id"`
	AlicloudAccessKeySecret       string `json:"alicloud_access_key_secret" mapstructure:"alicloud_access_key_secret"`
	AlicloudEndpoint              string `json:"alicloud_endpoint" mapstructure:"alicloud_endpoint"`
	GoogleTranslateAPIKey         string `json:"google_translate_api_key" mapstructure:"google_translate_api_key"`

	MicroDeviceID     int    `json:"micro_device_id" mapstructure:"micro_device_id"`
	AudioDriver       string `json:"audio_driver" mapstructure:"audio_driver"`
	FFmpegCommand     string `json:"ffmpeg_command" mapstructure:"ffmpeg_command"`
	FFmpegInputFormat string `json:"ffmpeg_input_format" mapstructure:"ffmpeg_input_format"`
	FFmpegInputDevice string `json:"ffmpeg_input_device" mapstructure:"ffmpeg_input_device"`
	SampleRate        int    `json:"sample_rate" mapstructure:"sample_rate"`
	Channels          int    `json:"channels" mapstructure:"channels"`
	FrameBytes        int    `json:"frame_bytes" mapstructure:"frame_bytes"`

	ASRProvider                string `json:"asr_provider" mapstructure:"asr_provider"`
	APIKey                     string `json:"api_key" mapstructure:"api_key"`
	ASRModel                   string `json:"asr_model" mapstructure:"asr_model"`
	ASRFormat                  string `json:"asr_format" mapstructure:"asr_format"`
	ASREndpoint                string `json:"asr_endpoint" mapstructure:"asr_endpoint"`
	ASRWorkspace               string `json:"asr_workspace" mapstructure:"asr_workspace"`
	DisfluencyRemovalEnabled   bool   `json:"disfluency_removal_enabled" mapstructure:"disfluency_removal_enabled"`
	DiarizationEnabled         bool   `json:"diarization_enabled" mapstructure:"diarization_enabled"`
	SpeakerCount               int    `json:"speaker_count" mapstructure:"speaker_count"`
	TimestampAlignmentEnabled  bool   `json:"timestamp_alignment_enabled" mapstructure:"timestamp_alignment_enabled"`
	SpecialWordFilter          string `json:"special_word_filter" mapstructure:"special_word_filter"`
	AudioEventDetectionEnabled bool   `json:"audio_event_detection_enabled" mapstructure:"audio_event_detection_enabled"`
	PhraseID                   string `json:"phrase_id" mapstructure:"phrase_id"`
	ASRTimeoutStatusCode       int    `json:"asr_timeout_status_code" mapstructure:"asr_timeout_status_code"`
	ASRTimeoutCode             string `json:"asr_timeout_code" mapstructure:"asr_timeout_code"`

	GoogleProjectID       string `json:"google_project_id" mapstructure:"google_project_id"`
	GoogleCredentialsJSON string `json:"google_credentials_json" mapstructure:"google_credentials_json"`
	GoogleSpeechLocation  string `json:"google_speech_location" mapstructure:"google_speech_location"`
	GoogleSpeechModel     string `json:"google_speech_model" mapstructure:"google_speech_model"`
	GoogleSpeechLanguage  string `json:"google_speech_language" mapstructure:"google_speech_language"`

	DatabaseURL          string `json:"database_url" mapstructure:"database_url"`
	TranscriptWebhookURL string `json:"transcript_webhook_url" mapstructure:"transcript_webhook_url"`
	TranscriptTimezone   string `json:"transcript_timezone" mapstructure:"transcript_timezone"`
	DiscordToken         string `json:"discord_token" mapstructure:"discord_token"`
	DiscordChannelID     string `json:"discord_channel_id" mapstructure:"discord_channel_id"`

	StopTimeoutMs    int    `json:"stop_timeout_ms" mapstructure:"stop_timeout_ms"`
	RestartBackoffMs int    `json:"restart_backoff_ms" mapstructure:"restart_backoff_ms"`
	LogLevel         string `json:"log_level" mapstructure:"log_level"`
	LogFormat        string `json:"log_format" mapstructure:"log_format"`
	WebListenAddr    string `json:"web_listen_addr" mapstructure:"web_listen_addr"`
}

// Default mirrors the values the setting document ships with.
func Default() Settings {
	return Settings{
		Env:                           "production",
		VRChatIP:                      "127.0.0.1",
		VRChatPort:                    9000,
		OSCBypassKeyboard:             true,
		OSCEnableSFX:                  true,
		OSCTypingIndicator:            true,
		SrcLang:                       "zh",
		DstLang:                       "ja",
		TranslateProvider:             TranslateProviderAlimt,
		TranslateFallbackUntranslated: true,
		TranslateReadTimeoutMs:        1000,
		TranslateConnectTimeoutMs:     1000,
		AlicloudEndpoint:              "mt.cn-hangzhou.aliyuncs.com",
		MicroDeviceID:                 3,
		AudioDriver:                   AudioDriverPortAudio,
		FFmpegCommand:                 "ffmpeg",
		FFmpegInputFormat:             "pulse",
		FFmpegInputDevice:             "default",
		SampleRate:                    16000,
		Channels:                      1,
		FrameBytes:                    3200,
		ASRProvider:                   ASRProviderDashScope,
		ASRModel:                      "paraformer-realtime-v1",
		ASRFormat:                     "pcm",
		ASREndpoint:                   "wss://dashscope.aliyuncs.com/api-ws/v1/inference/",
		ASRTimeoutStatusCode:          44,
		ASRTimeoutCode:                "ResponseTimeout",
		GoogleSpeechLocation:          "global",
		GoogleSpeechModel:             "long",
		GoogleSpeechLanguage:          "cmn-Hans-CN",
		TranscriptTimezone:            "Asia/Tokyo",
		StopTimeoutMs:                 5000,
		RestartBackoffMs:              1000,
		LogLevel:                      "info",
		LogFormat:                     "json",
		WebListenAddr:                 "127.0.0.1:8080",
	}
}

// With returns a copy of s with fn applied; s itself is left untouched.
func (s Settings) With(fn func(*Settings)) Settings {
	next := s
	fn(&next)
	return next
}

func (s Settings) Validate() error {
	for _, req := range s.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if s.VRChatPort <= 0 || s.VRChatPort > 65535 {
		return fmt.Errorf("vrchat_port must be within 1-65535, got %d", s.VRChatPort)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", s.SampleRate)
	}
	if s.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", s.Channels)
	}
	if s.FrameBytes <= 0 || s.FrameBytes%(2*s.Channels) != 0 {
		return fmt.Errorf("frame_bytes must be a positive multiple of %d, got %d", 2*s.Channels, s.FrameBytes)
	}
	switch s.AudioDriver {
	case AudioDriverPortAudio:
		if s.MicroDeviceID < 0 {
			return fmt.Errorf("micro_device_id must not be negative, got %d", s.MicroDeviceID)
		}
	case AudioDriverFFmpeg:
	default:
		return fmt.Errorf("audio_driver %q is not supported", s.AudioDriver)
	}
	switch s.ASRProvider {
	case ASRProviderDashScope:
		if s.APIKey == "" {
			return fmt.Errorf("api_key is required when asr_provider=%s", ASRProviderDashScope)
		}
	case ASRProviderGoogle:
		if s.GoogleProjectID == "" || s.GoogleCredentialsJSON == "" {
			return fmt.Errorf("google_project_id and google_credentials_json are required when asr_provider=%s", ASRProviderGoogle)
		}
	default:
		return fmt.Errorf("asr_provider %q is not supported", s.ASRProvider)
	}
	if s.EnableTranslate {
		if err := s.validateTranslate(); err != nil {
			return err
		}
	}
	if (s.DiscordToken == "") != (s.DiscordChannelID == "") {
		return fmt.Errorf("discord_token and discord_channel_id must be set together")
	}
	if _, err := time.LoadLocation(s.TranscriptTimezone); err != nil {
		return fmt.Errorf("transcript_timezone is invalid: %w", err)
	}
	if s.StopTimeoutMs <= 0 {
		return fmt.Errorf("stop_timeout_ms must be positive, got %d", s.StopTimeoutMs)
	}
	if s.RestartBackoffMs < 0 {
		return fmt.Errorf("restart_backoff_ms must not be negative, got %d", s.RestartBackoffMs)
	}
	return nil
}

func (s Settings) validateTranslate() error {
	if s.SrcLang == "" || s.DstLang == "" {
		return fmt.Errorf("src_lang and dst_lang are required when enable_translate=true")
	}
	switch s.TranslateProvider {
	case TranslateProviderAlimt:
		if s.AlicloudAccessKeyID == "" || s.AlicloudAccessKeySecret == "" {
			return fmt.Errorf("alicloud_access_key_id and alicloud_access_key_secret are required when translate_provider=%s", TranslateProviderAlimt)
		}
	case TranslateProviderGoogle:
		if s.GoogleTranslateAPIKey == "" {
			return fmt.Errorf("google_translate_api_key is required when translate_provider=%s", TranslateProviderGoogle)
		}
	default:
		return fmt.Errorf("translate_provider %q is not supported", s.TranslateProvider)
	}
	return nil
}

type requiredField struct {
	name  string
	value string
}

func (s Settings) requiredFieldChecks() []requiredField {
	return []requiredField{
		{name: "vrchat_ip", value: s.VRChatIP},
		{name: "asr_model", value: s.ASRModel},
		{name: "asr_format", value: s.ASRFormat},
		{name: "transcript_timezone", value: s.TranscriptTimezone},
	}
}

func (s Settings) IsDevelopment() bool {
	return s.Env == "development"
}

func (s Settings) OSCAddress() string {
	return net.JoinHostPort(s.VRChatIP, fmt.Sprint(s.VRChatPort))
}

func (s Settings) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutMs) * time.Millisecond
}

func (s Settings) RestartBackoff() time.Duration {
	return time.Duration(s.RestartBackoffMs) * time.Millisecond
}

func (s Settings) TranslateReadTimeout() time.Duration {
	return time.Duration(s.TranslateReadTimeoutMs) * time.Millisecond
}

func (s Settings) TranslateConnectTimeout() time.Duration {
	return time.Duration(s.TranslateConnectTimeoutMs) * time.Millisecond
}

func (s Settings) TranscriptLocation() *time.Location {
	loc, err := time.LoadLocation(s.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Settings) AudioFormat() audio.Format {
	return audio.Format{
		DeviceID:   s.MicroDeviceID,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		FrameBytes: s.FrameBytes,
	}
}

func (s Settings) RecognitionParams() recognition.Params {
	p := recognition.Params{
		Model:               s.ASRModel,
		Format:              s.ASRFormat,
		SampleRate:          s.SampleRate,
		Channels:            s.Channels,
		APIKey:              s.APIKey,
		Workspace:           s.ASRWorkspace,
		DisfluencyRemoval:   s.DisfluencyRemovalEnabled,
		Diarization:         s.DiarizationEnabled,
		SpeakerCount:        s.SpeakerCount,
		TimestampAlignment:  s.TimestampAlignmentEnabled,
		SpecialWordFilter:   s.SpecialWordFilter,
		AudioEventDetection: s.AudioEventDetectionEnabled,
		PhraseID:            s.PhraseID,
	}
	if s.ASRProvider == ASRProviderGoogle {
		p.Model = s.GoogleSpeechModel
		p.Language = s.GoogleSpeechLanguage
	}
	return p
}

func (s Settings) TimeoutMatcher() recognition.TimeoutMatcher {
	return recognition.TimeoutMatcher{StatusCode: s.ASRTimeoutStatusCode, Code: s.ASRTimeoutCode}
}
