package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/webhook"
)

func testPayload() webhook.TranscriptPayload {
	return webhook.TranscriptPayload{
		SchemaVersion: webhook.TranscriptSchemaVersion,
		SessionID:     "session-1",
		Status:        "completed",
		LineCount:     1,
		Lines:         []webhook.TranscriptLine{{Index: 0, Source: "你好", Translated: "こんにちは"}},
		Transcript:    "你好(こんにちは)",
	}
}

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	var got webhook.TranscriptPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.SessionID != "session-1" || got.SchemaVersion != webhook.TranscriptSchemaVersion {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Lines) != 1 || got.Lines[0].Translated != "こんにちは" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
}

func TestSendTranscript_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testPayload()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendTranscript_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Transcript-Schema-Version") != webhook.TranscriptSchemaVersion {
			t.Errorf("missing schema version header")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &HTTPSender{webhookURL: server.URL, client: server.Client()}
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected delivery on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendTranscript_CancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := &HTTPSender{webhookURL: server.URL, client: server.Client(), retryDelay: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- sender.SendTranscript(ctx, testPayload())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}
