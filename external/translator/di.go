package translator

import (
	"context"
	"fmt"

	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/translator"
	"github.com/samber/do/v2"
)

// RegisterDI registers the translator lazily; it is only resolved when
// translation is enabled.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (translator.Translator, error) {
		c := do.MustInvoke[config.Settings](i)
		switch c.TranslateProvider {
		case config.TranslateProviderAlimt:
			return NewAlimtTranslator(AlimtConfig{
				AccessKeyID:     c.AlicloudAccessKeyID,
				AccessKeySecret: c.AlicloudAccessKeySecret,
				Endpoint:        c.AlicloudEndpoint,
				ReadTimeout:     c.TranslateReadTimeout(),
				ConnectTimeout:  c.TranslateConnectTimeout(),
			})
		case config.TranslateProviderGoogle:
			return NewGoogleTranslator(context.Background(), c.GoogleTranslateAPIKey)
		default:
			return nil, fmt.Errorf("translate_provider %q is not supported", c.TranslateProvider)
		}
	})
}
