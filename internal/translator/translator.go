package translator

import (
	"context"
	"errors"
)

var ErrTranslationFailed = errors.New("translation failed")

type Request struct {
	SourceLang string
	TargetLang string
	// Context is the previous finalized sentence; providers that support
	// contextual translation use it to disambiguate Text.
	Context string
	Text    string
}

type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}
