package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/discord"
	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/foxseedlab/vrchat-asr/internal/webhook"
	"github.com/google/uuid"
)

const transcriptUploadMessage = ":page_facing_up:  **Transcript**"

// History records every recognition session and its finalized lines, and
// publishes the transcript once a session ends.
type History struct {
	repo      repository.Repository
	webhook   webhook.Sender
	discord   discord.Client
	channelID string
	meta      transcriptMeta
	loc       *time.Location
	now       func() time.Time
}

type sessionRecord struct {
	ID        string
	StartedAt time.Time
	persisted bool
}

// NewHistory builds the recorder. dc may be nil when no mirror channel is
// configured.
func NewHistory(repo repository.Repository, wh webhook.Sender, dc discord.Client, settings config.Settings) *History {
	params := settings.RecognitionParams()
	meta := transcriptMeta{
		Provider:   settings.ASRProvider,
		Model:      params.Model,
		SourceLang: settings.SrcLang,
		Timezone:   settings.TranscriptTimezone,
	}
	if settings.EnableTranslate {
		meta.TargetLang = settings.DstLang
	}
	return &History{
		repo:      repo,
		webhook:   wh,
		discord:   dc,
		channelID: settings.DiscordChannelID,
		meta:      meta,
		loc:       settings.TranscriptLocation(),
		now:       time.Now,
	}
}

var _ chatbox.Sink = (*History)(nil)

// Begin never fails: when the session row cannot be written the session
// still runs under a local id and is left out of the history.
func (h *History) Begin(ctx context.Context) sessionRecord {
	startedAt := h.now()
	created, err := h.repo.CreateSession(ctx, repository.CreateSessionInput{
		Provider:  h.meta.Provider,
		Model:     h.meta.Model,
		Timezone:  h.meta.Timezone,
		StartedAt: startedAt,
	})
	if err != nil {
		id := uuid.NewString()
		slog.Error("failed to create session in repository", "error", err, "session_id", id)
		return sessionRecord{ID: id, StartedAt: startedAt}
	}
	slog.Info("created session", "session_id", created.ID)
	return sessionRecord{ID: created.ID, StartedAt: startedAt, persisted: true}
}

func (h *History) LineFinalized(ctx context.Context, line chatbox.Line) error {
	err := h.repo.InsertLine(ctx, repository.InsertLineInput{
		SessionID:      line.SessionID,
		LineIndex:      line.Index,
		SourceText:     line.Source,
		TranslatedText: line.Translated,
		BeginMs:        line.BeginMs,
		EndMs:          line.EndMs,
		SpokenAt:       line.SpokenAt,
	})
	if err != nil {
		return fmt.Errorf("insert transcript line: %w", err)
	}
	return nil
}

// Finish completes the session row and, when the session produced any
// lines, posts the transcript to the webhook and the mirror channel.
func (h *History) Finish(ctx context.Context, rec sessionRecord, status repository.SessionStatus, reason string, billedSeconds int) {
	if !rec.persisted {
		return
	}
	endedAt := h.now()
	lines, err := h.repo.ListLinesBySessionID(ctx, rec.ID)
	if err != nil {
		slog.Error("failed to list transcript lines", "error", err, "session_id", rec.ID)
	}
	if err := h.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:     rec.ID,
		EndedAt:       endedAt,
		Status:        status,
		StopReason:    reason,
		LineCount:     len(lines),
		BilledSeconds: billedSeconds,
	}); err != nil {
		slog.Error("failed to complete session", "error", err, "session_id", rec.ID)
	}
	slog.Info("session recorded", "session_id", rec.ID, "status", status, "lines", len(lines), "billed_seconds", billedSeconds)
	if len(lines) == 0 {
		return
	}

	meta := h.meta
	meta.SessionID = rec.ID
	meta.Status = status
	meta.StopReason = reason
	meta.BilledSeconds = billedSeconds

	payload := buildTranscriptWebhookPayload(meta, rec.StartedAt, endedAt, h.loc, lines)
	if err := h.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", rec.ID)
	}

	if h.discord == nil {
		return
	}
	body := buildTranscriptText(meta, rec.StartedAt, endedAt, h.loc, lines)
	if err := h.discord.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID: h.channelID,
		Content:   transcriptUploadMessage,
		Filename:  fmt.Sprintf("transcript-%s.txt", rec.ID),
		FileBody:  body,
	}); err != nil {
		slog.Error("failed to upload transcript to discord", "error", err, "session_id", rec.ID)
	}
}

// DiscordMirror posts every finalized line to a text channel.
type DiscordMirror struct {
	client    discord.Client
	channelID string
}

func NewDiscordMirror(client discord.Client, channelID string) *DiscordMirror {
	slog.Info("mirroring chatbox to discord", "channel", client.ResolveChannelName(channelID))
	return &DiscordMirror{client: client, channelID: channelID}
}

var _ chatbox.Sink = (*DiscordMirror)(nil)

func (m *DiscordMirror) LineFinalized(_ context.Context, line chatbox.Line) error {
	if err := m.client.SendChannelMessage(m.channelID, formatLine(line.Source, line.Translated)); err != nil {
		return fmt.Errorf("post line to discord: %w", err)
	}
	return nil
}
