package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/foxseedlab/vrchat-asr/internal/webhook"
)

// 変更容易性を高めるため、time.DateTime をあえて指定していない
const transcriptTimeLayout = "2006-01-02 15:04:05"

// transcriptMeta describes a finished session for the transcript file and
// the webhook payload.
type transcriptMeta struct {
	SessionID     string
	Provider      string
	Model         string
	Status        repository.SessionStatus
	StopReason    string
	SourceLang    string
	TargetLang    string
	Timezone      string
	BilledSeconds int
}

func buildTranscriptText(meta transcriptMeta, startedAt, endedAt time.Time, loc *time.Location, lines []repository.TranscriptLine) []byte {
	loc = safeLocation(loc)
	startText := startedAt.In(loc).Format(transcriptTimeLayout)
	endText := endedAt.In(loc).Format(transcriptTimeLayout)

	language := meta.SourceLang
	if meta.TargetLang != "" {
		language = fmt.Sprintf("%s → %s", meta.SourceLang, meta.TargetLang)
	}

	out := []string{
		fmt.Sprintf("セッション：%s", meta.SessionID),
		fmt.Sprintf("音声認識：%s（%s）", meta.Provider, meta.Model),
		fmt.Sprintf("言語：%s", language),
		fmt.Sprintf("期間：%s ~ %s（%s）", startText, endText, meta.Timezone),
		"",
	}
	for _, l := range lines {
		elapsed := l.SpokenAt.Sub(startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		out = append(out, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), formatLine(l.SourceText, l.TranslatedText)))
	}
	return []byte(strings.Join(out, "\n"))
}

func buildTranscriptWebhookPayload(meta transcriptMeta, startedAt, endedAt time.Time, loc *time.Location, lines []repository.TranscriptLine) webhook.TranscriptPayload {
	loc = safeLocation(loc)
	transcript := make([]string, 0, len(lines))
	for _, l := range lines {
		transcript = append(transcript, formatLine(l.SourceText, l.TranslatedText))
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptPayload{
		SchemaVersion:   webhook.TranscriptSchemaVersion,
		SessionID:       meta.SessionID,
		Provider:        meta.Provider,
		Model:           meta.Model,
		Status:          string(meta.Status),
		StopReason:      meta.StopReason,
		StartAt:         startedAt.In(loc).Format(time.RFC3339),
		EndAt:           endedAt.In(loc).Format(time.RFC3339),
		Timezone:        meta.Timezone,
		DurationSeconds: durationSeconds,
		BilledSeconds:   meta.BilledSeconds,
		SourceLang:      meta.SourceLang,
		TargetLang:      meta.TargetLang,
		LineCount:       len(lines),
		Lines:           buildTranscriptWebhookLines(lines, endedAt, loc),
		Transcript:      strings.Join(transcript, "\n"),
	}
}

// A line ends when the next one is spoken; the last ends with the session.
func buildTranscriptWebhookLines(lines []repository.TranscriptLine, sessionEndedAt time.Time, loc *time.Location) []webhook.TranscriptLine {
	out := make([]webhook.TranscriptLine, 0, len(lines))
	for i, l := range lines {
		lineEnd := sessionEndedAt
		if i+1 < len(lines) {
			lineEnd = lines[i+1].SpokenAt
		}
		if lineEnd.Before(l.SpokenAt) {
			lineEnd = l.SpokenAt
		}
		out = append(out, webhook.TranscriptLine{
			Index:      l.LineIndex,
			StartAt:    l.SpokenAt.In(loc).Format(time.RFC3339),
			EndAt:      lineEnd.In(loc).Format(time.RFC3339),
			Source:     l.SourceText,
			Translated: l.TranslatedText,
		})
	}
	return out
}

func formatLine(source, translated string) string {
	if translated == "" {
		return source
	}
	return fmt.Sprintf("%s (%s)", source, translated)
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
