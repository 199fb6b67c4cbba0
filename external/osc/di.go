package osc

import (
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/overlay"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (overlay.Sender, error) {
		c := do.MustInvoke[config.Settings](i)
		return NewChatboxSender(c.VRChatIP, c.VRChatPort), nil
	})
}
