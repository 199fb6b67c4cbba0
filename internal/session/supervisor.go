package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/foxseedlab/vrchat-asr/internal/repository"
)

const (
	stopReasonCompleted = "recognition service finished the task"
	stopReasonTimeout   = "recognition service idle timeout"
	stopReasonCancelled = "worker stopped"
)

// Status is a point-in-time view of the supervisor for the control panel.
type Status struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Sessions  int       `json:"sessions"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Supervisor keeps the microphone streaming into one recognition session
// at a time and restarts sessions when they end.
type Supervisor struct {
	settings   config.Settings
	source     audio.Source
	streamer   recognition.Streamer
	dispatcher *chatbox.Dispatcher
	history    *History

	mu      sync.Mutex
	status  Status
	current *recognition.Session
}

func NewSupervisor(settings config.Settings, source audio.Source, streamer recognition.Streamer, dispatcher *chatbox.Dispatcher, history *History) *Supervisor {
	return &Supervisor{
		settings:   settings,
		source:     source,
		streamer:   streamer,
		dispatcher: dispatcher,
		history:    history,
		status:     Status{State: recognition.StateIdle.String()},
	}
}

// Run drives RunOnce until ctx is cancelled. Timeouts and clean
// completions restart immediately; other failures wait restart_backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("supervisor started", "asr_provider", s.settings.ASRProvider, "audio_driver", s.settings.AudioDriver)
	for {
		err := s.RunOnce(ctx)
		if ctx.Err() != nil {
			slog.Info("supervisor stopped", "reason", ctx.Err())
			return nil
		}

		delay := time.Duration(0)
		switch {
		case err == nil:
			slog.Info("recognition session completed; restarting")
		case errors.Is(err, recognition.ErrSessionTimeout):
			slog.Info("recognition session timed out; restarting", "error", err)
		case errors.Is(err, recognition.ErrInvalidState):
			slog.Error("supervisor misuse; giving up", "error", err)
			return err
		default:
			slog.Error("recognition session failed; restarting after backoff", "error", err, "backoff", s.settings.RestartBackoff())
			delay = s.settings.RestartBackoff()
		}
		s.recordRestart(err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				slog.Info("supervisor stopped", "reason", ctx.Err())
				return nil
			case <-timer.C:
			}
		}
	}
}

// RunOnce opens the audio source and one recognition session and forwards
// frames until the session stops or ctx is cancelled. Teardown always
// runs: the session is stopped (bounded by stop_timeout), the device is
// released and the history record is completed.
func (s *Supervisor) RunOnce(ctx context.Context) (runErr error) {
	handle, err := s.source.Open(ctx, s.settings.AudioFormat())
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}

	record := s.history.Begin(ctx)
	session := recognition.NewSession(s.streamer, s.settings.TimeoutMatcher())
	tally := &usageTally{}
	s.setCurrent(record.ID, session)

	defer func() {
		s.teardown(ctx, record.ID, session, handle)
		runErr = sessionOutcome(ctx, session, runErr)
		status, reason := classifyOutcome(ctx, runErr)
		s.history.Finish(context.WithoutCancel(ctx), record, status, reason, tally.total())
		s.clearCurrent(runErr)
	}()

	dispatchCtx := context.WithoutCancel(ctx)
	handler := func(r recognition.Result) {
		tally.observe(r)
		if err := s.dispatcher.Handle(dispatchCtx, record.ID, r); err != nil {
			slog.Error("failed to dispatch recognition result", "error", err, "session_id", record.ID, "kind", r.Kind.String())
		}
	}
	if err := session.Start(ctx, s.settings.RecognitionParams(), handler); err != nil {
		return fmt.Errorf("start recognition session: %w", err)
	}
	slog.Info("session activated", "session_id", record.ID)

	return capture(ctx, session, handle)
}

// capture returns nil when the session stopped on its own or ctx was
// cancelled. A pending read is abandoned as soon as the session ends.
func capture(ctx context.Context, session *recognition.Session, handle audio.Handle) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		if session.IsStopped() {
			return nil
		}
		frame, err := handle.ReadFrame(readCtx)
		if err != nil {
			if readCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read audio frame: %w", err)
		}
		if err := session.SendFrame(frame); err != nil {
			if errors.Is(err, recognition.ErrInvalidState) || errors.Is(err, recognition.ErrBufferClosed) {
				return nil
			}
			return fmt.Errorf("forward audio frame: %w", err)
		}
	}
}

func (s *Supervisor) teardown(ctx context.Context, sessionID string, session *recognition.Session, handle audio.Handle) {
	if session.State() == recognition.StateStreaming {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.StopTimeout())
		if err := session.Stop(stopCtx); err != nil {
			slog.Warn("failed to stop recognition session cleanly", "error", err, "session_id", sessionID)
		}
		cancel()
	}
	<-session.Done()
	if err := handle.Close(); err != nil {
		slog.Warn("failed to close audio source", "error", err, "session_id", sessionID)
	}
	slog.Info("session torn down", "session_id", sessionID, "state", session.State().String())
}

func sessionOutcome(ctx context.Context, session *recognition.Session, loopErr error) error {
	if loopErr != nil {
		return loopErr
	}
	if err := session.Err(); err != nil {
		return fmt.Errorf("recognition session ended: %w", err)
	}
	return ctx.Err()
}

func classifyOutcome(ctx context.Context, err error) (repository.SessionStatus, string) {
	switch {
	case ctx.Err() != nil:
		return repository.SessionStatusCompleted, stopReasonCancelled
	case err == nil:
		return repository.SessionStatusCompleted, stopReasonCompleted
	case errors.Is(err, recognition.ErrSessionTimeout):
		return repository.SessionStatusTimedOut, stopReasonTimeout
	default:
		return repository.SessionStatusFaulted, err.Error()
	}
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if s.current != nil {
		status.State = s.current.State().String()
	}
	return status
}

func (s *Supervisor) setCurrent(sessionID string, session *recognition.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
	s.status.SessionID = sessionID
	s.status.Sessions++
	s.status.UpdatedAt = time.Now()
}

func (s *Supervisor) clearCurrent(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.status.State = s.current.State().String()
	}
	s.current = nil
	s.status.LastError = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		s.status.LastError = err.Error()
	}
	s.status.UpdatedAt = time.Now()
}

func (s *Supervisor) recordRestart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Restarts++
	if err != nil {
		s.status.LastError = err.Error()
	}
}

type usageTally struct {
	mu      sync.Mutex
	seconds int
}

func (t *usageTally) observe(r recognition.Result) {
	if r.Usage == nil {
		return
	}
	t.mu.Lock()
	t.seconds += r.Usage.DurationSeconds
	t.mu.Unlock()
}

func (t *usageTally) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}
