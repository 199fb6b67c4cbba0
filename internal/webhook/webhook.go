package webhook

import "context"

const TranscriptSchemaVersion = "2026-10-01"

type TranscriptLine struct {
	Index      int    `json:"index"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Source     string `json:"source"`
	Translated string `json:"translated,omitempty"`
}

// TranscriptPayload is posted once per finished recognition session.
type TranscriptPayload struct {
	SchemaVersion   string           `json:"schema_version"`
	SessionID       string           `json:"session_id"`
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Status          string           `json:"status"`
	StopReason      string           `json:"stop_reason,omitempty"`
	StartAt         string           `json:"start_at"`
	EndAt           string           `json:"end_at"`
	Timezone        string           `json:"timezone"`
	DurationSeconds int64            `json:"duration_seconds"`
	BilledSeconds   int              `json:"billed_seconds"`
	SourceLang      string           `json:"source_lang"`
	TargetLang      string           `json:"target_lang,omitempty"`
	LineCount       int              `json:"line_count"`
	Lines           []TranscriptLine `json:"lines"`
	Transcript      string           `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptPayload) error
}
