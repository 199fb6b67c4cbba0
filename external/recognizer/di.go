package recognizer

import (
	"fmt"

	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (recognition.Streamer, error) {
		c := do.MustInvoke[config.Settings](i)
		switch c.ASRProvider {
		case config.ASRProviderDashScope:
			return NewDashScopeStreamer(c.ASREndpoint), nil
		case config.ASRProviderGoogle:
			return NewCloudSpeechStreamer(CloudSpeechConfig{
				ProjectID:       c.GoogleProjectID,
				CredentialsJSON: c.GoogleCredentialsJSON,
				Language:        c.GoogleSpeechLanguage,
				Location:        c.GoogleSpeechLocation,
				Model:           c.GoogleSpeechModel,
			}), nil
		default:
			return nil, fmt.Errorf("asr_provider %q is not supported", c.ASRProvider)
		}
	})
}
