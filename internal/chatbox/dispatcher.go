package chatbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/overlay"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/foxseedlab/vrchat-asr/internal/translator"
)

// Line is a finalized sentence as it was shown in the chatbox.
type Line struct {
	SessionID  string
	Index      int
	Source     string
	Translated string
	Display    string
	BeginMs    int64
	EndMs      int64
	SpokenAt   time.Time
}

// Sink observes finalized lines (history, live feeds). Sink failures are
// logged and never abort dispatch.
type Sink interface {
	LineFinalized(ctx context.Context, line Line) error
}

type Options struct {
	TypingIndicator      bool
	BypassKeyboard       bool
	SFX                  bool
	Translate            bool
	SourceLang           string
	TargetLang           string
	FallbackUntranslated bool
}

type Dispatcher struct {
	overlay    overlay.Sender
	translator translator.Translator
	opts       Options
	state      *TranscriptState
	sinks      []Sink
	now        func() time.Time
}

func NewDispatcher(sender overlay.Sender, tr translator.Translator, opts Options, sinks ...Sink) *Dispatcher {
	if tr == nil {
		opts.Translate = false
	}
	return &Dispatcher{
		overlay:    sender,
		translator: tr,
		opts:       opts,
		state:      &TranscriptState{},
		sinks:      sinks,
		now:        time.Now,
	}
}

func (d *Dispatcher) State() *TranscriptState {
	return d.state
}

// Handle turns one recognition result into chatbox traffic.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, r recognition.Result) error {
	switch r.Kind {
	case recognition.KindPartial:
		if !d.opts.TypingIndicator {
			return nil
		}
		if err := d.overlay.SendTyping(true); err != nil {
			return fmt.Errorf("send typing indicator: %w", err)
		}
		return nil
	case recognition.KindFinal:
		return d.handleFinal(ctx, sessionID, r)
	case recognition.KindUsage:
		slog.Debug("recognition usage", "session_id", sessionID, "end_ms", r.Usage.EndMs, "duration_seconds", r.Usage.DurationSeconds)
		return nil
	case recognition.KindTimeout:
		slog.Info("recognition session idle timeout", "session_id", sessionID, "error", r.Err, "request_id", r.RequestID)
		return nil
	case recognition.KindError:
		slog.Error("recognition session error", "session_id", sessionID, "error", r.Err, "request_id", r.RequestID)
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleFinal(ctx context.Context, sessionID string, r recognition.Result) error {
	text := r.Sentence.Text
	if strings.TrimSpace(text) == "" {
		slog.Debug("skipping empty final sentence", "session_id", sessionID, "index", r.Sentence.Index)
		return d.clearTyping()
	}
	prev := d.state.Snapshot()

	var (
		translated   string
		translateErr error
	)
	if d.opts.Translate {
		var err error
		translated, err = d.translator.Translate(ctx, translator.Request{
			SourceLang: d.opts.SourceLang,
			TargetLang: d.opts.TargetLang,
			Context:    prev.LastFinalSourceText,
			Text:       text,
		})
		if err != nil {
			if !errors.Is(err, translator.ErrTranslationFailed) {
				err = fmt.Errorf("%w: %w", translator.ErrTranslationFailed, err)
			}
			if !d.opts.FallbackUntranslated {
				return err
			}
			slog.Warn("translation failed; showing untranslated text", "session_id", sessionID, "error", err)
			translateErr = err
			translated = ""
		}
	}

	display := compose(prev, text, translated, d.opts.Translate, translateErr == nil)

	if err := d.clearTyping(); err != nil {
		return err
	}
	sendErr := d.overlay.SendInput(display, d.opts.BypassKeyboard, d.opts.SFX)
	d.state.set(Transcript{
		LastFinalSourceText:     text,
		LastFinalTranslatedText: translated,
		LastFinalUntranslated:   translateErr != nil,
	})
	if sendErr != nil {
		return fmt.Errorf("send chatbox input: %w", sendErr)
	}

	line := Line{
		SessionID:  sessionID,
		Index:      r.Sentence.Index,
		Source:     text,
		Translated: translated,
		Display:    display,
		BeginMs:    r.Sentence.BeginMs,
		EndMs:      r.Sentence.EndMs,
		SpokenAt:   d.now(),
	}
	for _, sink := range d.sinks {
		if err := sink.LineFinalized(ctx, line); err != nil {
			slog.Error("failed to record finalized line", "session_id", sessionID, "index", line.Index, "error", err)
		}
	}
	return translateErr
}

func (d *Dispatcher) clearTyping() error {
	if !d.opts.TypingIndicator {
		return nil
	}
	if err := d.overlay.SendTyping(false); err != nil {
		return fmt.Errorf("clear typing indicator: %w", err)
	}
	return nil
}

// compose renders the previous and current line. With translation on each
// line reads "text(translation)"; a line whose translation failed is shown
// bare, here and when it becomes the previous line.
func compose(prev Transcript, text, translated string, translate, ok bool) string {
	if !translate {
		return prev.LastFinalSourceText + "\n" + text
	}
	previous := prev.LastFinalSourceText
	if !prev.LastFinalUntranslated {
		previous = fmt.Sprintf("%s(%s)", prev.LastFinalSourceText, prev.LastFinalTranslatedText)
	}
	current := text
	if ok {
		current = fmt.Sprintf("%s(%s)", text, translated)
	}
	return previous + "\n" + current
}
