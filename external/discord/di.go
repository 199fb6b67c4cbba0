package discord

import (
	"github.com/foxseedlab/vrchat-asr/internal/config"
	discordpkg "github.com/foxseedlab/vrchat-asr/internal/discord"
	"github.com/samber/do/v2"
)

// RegisterDI registers the client lazily; it is only resolved when a
// discord token is configured.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (discordpkg.Client, error) {
		c := do.MustInvoke[config.Settings](i)
		return NewClient(c.DiscordToken)
	})
}
