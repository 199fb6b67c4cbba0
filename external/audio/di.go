package audio

import (
	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (audio.Source, error) {
		c := do.MustInvoke[config.Settings](i)
		if c.AudioDriver == config.AudioDriverFFmpeg {
			return NewFFmpegSource(c.FFmpegCommand, c.FFmpegInputFormat, c.FFmpegInputDevice), nil
		}
		return NewPortAudioSource(), nil
	})
	do.Provide(injector, func(i do.Injector) (audio.DeviceLister, error) {
		return NewPortAudioSource(), nil
	})
}
