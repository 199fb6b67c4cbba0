package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/foxseedlab/vrchat-asr/internal/webhook"
)

const (
	webhookRequestTimeout = 10 * time.Second
	webhookMaxAttempts    = 3
	webhookRetryDelay     = 500 * time.Millisecond
	webhookErrorBodyLimit = 512
)

type HTTPSender struct {
	webhookURL string
	client     *http.Client
	retryDelay time.Duration
}

func NewHTTPSender(webhookURL string) webhook.Sender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookRequestTimeout},
		retryDelay: webhookRetryDelay,
	}
}

// SendTranscript posts the payload as JSON. Transport failures and 5xx
// answers are retried; it is a no-op when no webhook URL is configured.
func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		return s.post(ctx, body, payload.SchemaVersion)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("webhook delivery failed; retrying", "error", err, "attempt", attempt, "wait", wait, "session_id", payload.SessionID)
	}
	return backoff.RetryNotify(operation, s.backOff(ctx), notify)
}

func (s *HTTPSender) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, webhookMaxAttempts-1), ctx)
}

// post returns a permanent error for answers that retrying cannot fix.
func (s *HTTPSender) post(ctx context.Context, body []byte, schemaVersion string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Transcript-Schema-Version", schemaVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("post webhook: %w", err))
		}
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if isHTTPSuccessStatus(resp.StatusCode) {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookErrorBodyLimit))
	err = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode < http.StatusInternalServerError {
		return backoff.Permanent(err)
	}
	return err
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
