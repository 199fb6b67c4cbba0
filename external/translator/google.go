package translator

import (
	"context"
	"fmt"
	"html"

	"github.com/foxseedlab/vrchat-asr/internal/translator"
	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"
)

// GoogleTranslator calls the Cloud Translation v2 REST API with an API key.
// The v2 API has no notion of surrounding context, so Request.Context is
// not sent.
type GoogleTranslator struct {
	service *translate.Service
}

func NewGoogleTranslator(ctx context.Context, apiKey string, opts ...option.ClientOption) (translator.Translator, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := translate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create translate service: %w", err)
	}
	return &GoogleTranslator{service: svc}, nil
}

func (t *GoogleTranslator) Translate(ctx context.Context, req translator.Request) (string, error) {
	call := t.service.Translations.List([]string{req.Text}, req.TargetLang).Format("text").Context(ctx)
	if req.SourceLang != "" {
		call = call.Source(req.SourceLang)
	}
	resp, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("%w: google: %v", translator.ErrTranslationFailed, err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("%w: google: response has no translations", translator.ErrTranslationFailed)
	}
	return html.UnescapeString(resp.Translations[0].TranslatedText), nil
}
