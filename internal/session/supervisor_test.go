package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/chatbox"
	"github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/foxseedlab/vrchat-asr/internal/webhook"
)

type mockRepository struct {
	mu       sync.Mutex
	sessions []*repository.Session
	lines    []repository.InsertLineInput
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &repository.Session{
		ID:        fmt.Sprintf("session-%d", len(m.sessions)+1),
		Provider:  input.Provider,
		Model:     input.Model,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}
	m.sessions = append(m.sessions, s)
	copied := *s
	return &copied, nil
}

func (m *mockRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == input.SessionID {
			s.Status = input.Status
			s.StopReason = input.StopReason
			s.LineCount = input.LineCount
			s.BilledSeconds = input.BilledSeconds
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (m *mockRepository) GetSession(_ context.Context, sessionID string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *mockRepository) ListRecentSessions(_ context.Context, _ int) ([]repository.Session, error) {
	return nil, nil
}

func (m *mockRepository) InsertLine(_ context.Context, input repository.InsertLineInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, input)
	return nil
}

func (m *mockRepository) ListLinesBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.TranscriptLine
	for _, l := range m.lines {
		if l.SessionID == sessionID {
			out = append(out, repository.TranscriptLine{SessionID: l.SessionID, LineIndex: l.LineIndex, SourceText: l.SourceText, TranslatedText: l.TranslatedText, SpokenAt: l.SpokenAt})
		}
	}
	return out, nil
}

func (m *mockRepository) statuses() []repository.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status)
	}
	return out
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

type recordingSender struct {
	mu     sync.Mutex
	inputs []string
	typing []bool
}

func (r *recordingSender) SendTyping(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, on)
	return nil
}

func (r *recordingSender) SendInput(text string, _, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, text)
	return nil
}

func (r *recordingSender) sentInputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inputs...)
}

type fakeHandle struct {
	mu     sync.Mutex
	reads  int
	failAt int
	closed int
}

func (h *fakeHandle) ReadFrame(ctx context.Context) (audio.Frame, error) {
	h.mu.Lock()
	n := h.reads
	h.reads++
	h.mu.Unlock()
	if h.failAt > 0 && n >= h.failAt {
		return nil, fmt.Errorf("%w: device removed", audio.ErrCaptureFault)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return audio.Frame{byte(n), 0}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeSource struct {
	mu      sync.Mutex
	handles []*fakeHandle
	failAt  int
	err     error
}

func (s *fakeSource) Open(_ context.Context, _ audio.Format) (audio.Handle, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{failAt: s.failAt}
	s.handles = append(s.handles, h)
	return h, nil
}

// scriptedStream replays responses pushed by its script. CloseSend ends
// the response sequence with io.EOF.
type scriptedStream struct {
	mu         sync.Mutex
	frames     int
	sendClosed bool
	responses  chan *recognition.Response
	closed     chan struct{}
	closeOnce  sync.Once
	onFrame    func(n int, s *scriptedStream)
}

func newScriptedStream(onFrame func(n int, s *scriptedStream)) *scriptedStream {
	return &scriptedStream{
		responses: make(chan *recognition.Response, 16),
		closed:    make(chan struct{}),
		onFrame:   onFrame,
	}
}

func (s *scriptedStream) emit(resp *recognition.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed {
		return
	}
	s.responses <- resp
}

func (s *scriptedStream) Send(_ audio.Frame) error {
	s.mu.Lock()
	s.frames++
	n := s.frames
	s.mu.Unlock()
	if s.onFrame != nil {
		s.onFrame(n, s)
	}
	return nil
}

func (s *scriptedStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.responses)
	}
	return nil
}

func (s *scriptedStream) Recv() (*recognition.Response, error) {
	select {
	case resp, ok := <-s.responses:
		if !ok {
			return nil, io.EOF
		}
		return resp, nil
	case <-s.closed:
		return nil, errors.New("stream closed")
	}
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeStreamer struct {
	mu      sync.Mutex
	opens   int
	streams []*scriptedStream
	open    func(n int) (*scriptedStream, error)
}

func (f *fakeStreamer) Open(_ context.Context, _ recognition.Params) (recognition.Stream, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	f.mu.Unlock()
	s, err := f.open(n)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeStreamer) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func sentence(text string, end bool) *recognition.Response {
	s := &recognition.Sentence{Text: text, End: end}
	if end {
		s.EndMs = 1000
	}
	return &recognition.Response{StatusCode: recognition.StatusOK, Sentence: s}
}

func testSettings() config.Settings {
	return config.Default().With(func(s *config.Settings) {
		s.APIKey = "sk-test"
		s.OSCTypingIndicator = false
		s.RestartBackoffMs = 10
		s.StopTimeoutMs = 2000
	})
}

type harness struct {
	supervisor *Supervisor
	dispatcher *chatbox.Dispatcher
	sender     *recordingSender
	repo       *mockRepository
	webhook    *mockWebhookSender
	source     *fakeSource
	streamer   *fakeStreamer
}

func newHarness(settings config.Settings, source *fakeSource, streamer *fakeStreamer) *harness {
	h := &harness{
		sender:   &recordingSender{},
		repo:     &mockRepository{},
		webhook:  &mockWebhookSender{},
		source:   source,
		streamer: streamer,
	}
	history := NewHistory(h.repo, h.webhook, nil, settings)
	h.dispatcher = chatbox.NewDispatcher(h.sender, nil, chatbox.Options{}, history)
	h.supervisor = NewSupervisor(settings, source, streamer, h.dispatcher, history)
	return h
}

func TestRunOnce_PartialFinalComplete(t *testing.T) {
	streamer := &fakeStreamer{open: func(int) (*scriptedStream, error) {
		return newScriptedStream(func(n int, s *scriptedStream) {
			if n == 3 {
				s.emit(sentence("hel", false))
				s.emit(sentence("hello", true))
				s.emit(&recognition.Response{StatusCode: recognition.StatusOK})
			}
		}), nil
	}}
	h := newHarness(testSettings(), &fakeSource{}, streamer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.supervisor.RunOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inputs := h.sender.sentInputs()
	if len(inputs) != 1 || !strings.HasSuffix(inputs[0], "hello") {
		t.Fatalf("expected exactly one chatbox input ending in hello, got %q", inputs)
	}
	if h.source.handles[0].closeCount() != 1 {
		t.Fatalf("expected audio handle closed once, got %d", h.source.handles[0].closeCount())
	}
	if got := h.repo.statuses(); len(got) != 1 || got[0] != repository.SessionStatusCompleted {
		t.Fatalf("unexpected session statuses: %v", got)
	}
	if len(h.webhook.payloads) != 1 || h.webhook.payloads[0].Transcript != "hello" {
		t.Fatalf("unexpected webhook payloads: %+v", h.webhook.payloads)
	}
}

func TestRun_TimeoutRestartsWithTranscriptKept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamer := &fakeStreamer{open: func(n int) (*scriptedStream, error) {
		if n == 1 {
			return newScriptedStream(func(frame int, s *scriptedStream) {
				if frame == 1 {
					s.emit(sentence("before timeout", true))
					s.emit(recognition.TimeoutResponse("idle", "req-1"))
				}
			}), nil
		}
		cancel()
		return newScriptedStream(nil), nil
	}}
	h := newHarness(testSettings(), &fakeSource{}, streamer)

	if err := h.supervisor.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := streamer.openCount(); got != 2 {
		t.Fatalf("expected exactly one restart, got %d opens", got)
	}
	if got := h.dispatcher.State().Snapshot().LastFinalSourceText; got != "before timeout" {
		t.Fatalf("transcript state was not carried over: %q", got)
	}
	statuses := h.repo.statuses()
	if len(statuses) != 2 || statuses[0] != repository.SessionStatusTimedOut || statuses[1] != repository.SessionStatusCompleted {
		t.Fatalf("unexpected session statuses: %v", statuses)
	}
	for i, handle := range h.source.handles {
		if handle.closeCount() != 1 {
			t.Fatalf("handle %d closed %d times", i, handle.closeCount())
		}
	}
	if st := h.supervisor.Status(); st.Sessions != 2 || st.Restarts != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRun_FaultRestartsAfterBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamer := &fakeStreamer{open: func(n int) (*scriptedStream, error) {
		if n == 1 {
			return nil, errors.New("handshake failed")
		}
		cancel()
		return newScriptedStream(nil), nil
	}}
	h := newHarness(testSettings(), &fakeSource{}, streamer)

	started := time.Now()
	if err := h.supervisor.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 10*time.Millisecond {
		t.Fatalf("expected restart backoff, restarted after %v", elapsed)
	}
	statuses := h.repo.statuses()
	if len(statuses) != 2 || statuses[0] != repository.SessionStatusFaulted {
		t.Fatalf("unexpected session statuses: %v", statuses)
	}
}

func TestRunOnce_ServiceErrorFaultsSession(t *testing.T) {
	streamer := &fakeStreamer{open: func(int) (*scriptedStream, error) {
		return newScriptedStream(func(n int, s *scriptedStream) {
			if n == 1 {
				s.emit(&recognition.Response{StatusCode: 400, Code: "InvalidParameter", Message: "bad format"})
			}
		}), nil
	}}
	h := newHarness(testSettings(), &fakeSource{}, streamer)

	err := h.supervisor.RunOnce(context.Background())
	if !errors.Is(err, recognition.ErrSession) || errors.Is(err, recognition.ErrSessionTimeout) {
		t.Fatalf("expected session error, got %v", err)
	}
	if len(h.sender.sentInputs()) != 0 {
		t.Fatalf("no chatbox input expected on error, got %q", h.sender.sentInputs())
	}
	if got := h.repo.statuses(); got[0] != repository.SessionStatusFaulted {
		t.Fatalf("unexpected session statuses: %v", got)
	}
}

func TestRunOnce_CaptureFaultTearsDown(t *testing.T) {
	var stream *scriptedStream
	streamer := &fakeStreamer{open: func(int) (*scriptedStream, error) {
		stream = newScriptedStream(nil)
		return stream, nil
	}}
	h := newHarness(testSettings(), &fakeSource{failAt: 2}, streamer)

	err := h.supervisor.RunOnce(context.Background())
	if !errors.Is(err, audio.ErrCaptureFault) {
		t.Fatalf("expected capture fault, got %v", err)
	}
	if h.source.handles[0].closeCount() != 1 {
		t.Fatal("audio handle was not released")
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if !stream.sendClosed || stream.frames != 2 {
		t.Fatalf("expected queued frames flushed before close send, got frames=%d closed=%v", stream.frames, stream.sendClosed)
	}
}

func TestRunOnce_DeviceUnavailable(t *testing.T) {
	streamer := &fakeStreamer{open: func(int) (*scriptedStream, error) {
		return newScriptedStream(nil), nil
	}}
	source := &fakeSource{err: fmt.Errorf("%w: device 3", audio.ErrDeviceUnavailable)}
	h := newHarness(testSettings(), source, streamer)

	err := h.supervisor.RunOnce(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
	if streamer.openCount() != 0 || len(h.repo.statuses()) != 0 {
		t.Fatal("no session should be opened without a device")
	}
}

func TestRunOnce_CancelReleasesResources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var stream *scriptedStream
	streamer := &fakeStreamer{open: func(int) (*scriptedStream, error) {
		stream = newScriptedStream(func(n int, _ *scriptedStream) {
			if n == 5 {
				cancel()
			}
		})
		return stream, nil
	}}
	h := newHarness(testSettings(), &fakeSource{}, streamer)

	err := h.supervisor.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.source.handles[0].closeCount() != 1 {
		t.Fatal("audio handle was not released")
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if !stream.sendClosed {
		t.Fatal("recognition stream was left half open")
	}
	if got := h.repo.statuses(); got[0] != repository.SessionStatusCompleted {
		t.Fatalf("unexpected session statuses: %v", got)
	}
}
