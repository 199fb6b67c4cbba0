package session

import (
	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/discord"
	"github.com/foxseedlab/vrchat-asr/internal/overlay"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/foxseedlab/vrchat-asr/internal/translator"
	"github.com/foxseedlab/vrchat-asr/internal/webhook"
	"github.com/samber/do/v2"
)

// LiveFeedName names an optional chatbox.Sink provided by the web panel.
const LiveFeedName = "live-feed"

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*History, error) {
		cfg := do.MustInvoke[config.Settings](i)
		repo := do.MustInvoke[repository.Repository](i)
		wh := do.MustInvoke[webhook.Sender](i)
		var dc discord.Client
		if cfg.DiscordToken != "" {
			client, err := do.Invoke[discord.Client](i)
			if err != nil {
				return nil, err
			}
			dc = client
		}
		return NewHistory(repo, wh, dc, cfg), nil
	})

	do.Provide(injector, func(i do.Injector) (*chatbox.Dispatcher, error) {
		cfg := do.MustInvoke[config.Settings](i)
		sender := do.MustInvoke[overlay.Sender](i)
		history := do.MustInvoke[*History](i)

		var tr translator.Translator
		if cfg.EnableTranslate {
			t, err := do.Invoke[translator.Translator](i)
			if err != nil {
				return nil, err
			}
			tr = t
		}

		sinks := []chatbox.Sink{history}
		if cfg.DiscordToken != "" {
			dc, err := do.Invoke[discord.Client](i)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, NewDiscordMirror(dc, cfg.DiscordChannelID))
		}
		if feed, err := do.InvokeNamed[chatbox.Sink](i, LiveFeedName); err == nil {
			sinks = append(sinks, feed)
		}

		return chatbox.NewDispatcher(sender, tr, chatbox.Options{
			TypingIndicator:      cfg.OSCTypingIndicator,
			BypassKeyboard:       cfg.OSCBypassKeyboard,
			SFX:                  cfg.OSCEnableSFX,
			Translate:            cfg.EnableTranslate,
			SourceLang:           cfg.SrcLang,
			TargetLang:           cfg.DstLang,
			FallbackUntranslated: cfg.TranslateFallbackUntranslated,
		}, sinks...), nil
	})

	do.Provide(injector, func(i do.Injector) (*Supervisor, error) {
		cfg := do.MustInvoke[config.Settings](i)
		source := do.MustInvoke[audio.Source](i)
		streamer := do.MustInvoke[recognition.Streamer](i)
		dispatcher := do.MustInvoke[*chatbox.Dispatcher](i)
		history := do.MustInvoke[*History](i)
		return NewSupervisor(cfg, source, streamer, dispatcher, history), nil
	})
}
