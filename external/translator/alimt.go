package translator

import (
	"context"
	"fmt"
	"time"

	alimt "github.com/alibabacloud-go/alimt-20181012/v2/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/foxseedlab/vrchat-asr/internal/translator"
)

const (
	alimtScene      = "general"
	alimtFormatType = "text"
	alimtCodeOK     = 200
)

type AlimtConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	ReadTimeout     time.Duration
	ConnectTimeout  time.Duration
}

type generalTranslateAPI interface {
	TranslateGeneralWithOptions(request *alimt.TranslateGeneralRequest, runtime *util.RuntimeOptions) (*alimt.TranslateGeneralResponse, error)
}

// AlimtTranslator calls Alibaba Cloud Machine Translation (general scene).
type AlimtTranslator struct {
	api     generalTranslateAPI
	runtime *util.RuntimeOptions
}

func NewAlimtTranslator(cfg AlimtConfig) (translator.Translator, error) {
	client, err := alimt.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(cfg.Endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("create alimt client: %w", err)
	}
	return newAlimtTranslator(client, cfg.ReadTimeout, cfg.ConnectTimeout), nil
}

func newAlimtTranslator(api generalTranslateAPI, readTimeout, connectTimeout time.Duration) *AlimtTranslator {
	return &AlimtTranslator{
		api: api,
		runtime: &util.RuntimeOptions{
			ReadTimeout:    tea.Int(int(readTimeout.Milliseconds())),
			ConnectTimeout: tea.Int(int(connectTimeout.Milliseconds())),
		},
	}
}

// Translate ignores ctx cancellation beyond the runtime timeouts; the SDK
// has no context support.
func (t *AlimtTranslator) Translate(ctx context.Context, req translator.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", translator.ErrTranslationFailed, err)
	}
	request := &alimt.TranslateGeneralRequest{
		FormatType:     tea.String(alimtFormatType),
		Scene:          tea.String(alimtScene),
		SourceLanguage: tea.String(req.SourceLang),
		TargetLanguage: tea.String(req.TargetLang),
		SourceText:     tea.String(req.Text),
	}
	if req.Context != "" {
		request.Context = tea.String(req.Context)
	}

	resp, err := t.api.TranslateGeneralWithOptions(request, t.runtime)
	if err != nil {
		return "", fmt.Errorf("%w: alimt: %v", translator.ErrTranslationFailed, err)
	}
	if resp == nil || resp.Body == nil {
		return "", fmt.Errorf("%w: alimt: empty response", translator.ErrTranslationFailed)
	}
	body := resp.Body
	if code := tea.Int32Value(body.Code); code != alimtCodeOK {
		return "", fmt.Errorf("%w: alimt: code=%d message=%s request_id=%s", translator.ErrTranslationFailed, code, tea.StringValue(body.Message), tea.StringValue(body.RequestId))
	}
	if body.Data == nil {
		return "", fmt.Errorf("%w: alimt: response has no data", translator.ErrTranslationFailed)
	}
	return tea.StringValue(body.Data.Translated), nil
}
