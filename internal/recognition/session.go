package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"golang.org/x/sync/errgroup"
)

// Handler receives results in the order the service produced them. It is
// called from the session's inbound goroutine.
type Handler func(Result)

// Session drives one duplex recognition call: frames pushed with SendFrame
// are forwarded by an outbound goroutine while an inbound goroutine turns
// responses into Results.
type Session struct {
	streamer Streamer
	matcher  TimeoutMatcher

	mu          sync.Mutex
	state       State
	err         error
	buffer      *FrameBuffer
	done        chan struct{}
	cancel      context.CancelFunc
	forceClosed atomic.Bool
}

func NewSession(streamer Streamer, matcher TimeoutMatcher) *Session {
	return &Session{
		streamer: streamer,
		matcher:  matcher.orDefault(),
		state:    StateIdle,
	}
}

func (s *Session) Start(ctx context.Context, params Params, handler Handler) error {
	s.mu.Lock()
	if s.state.active() {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	s.state = StateStarting
	s.err = nil
	s.forceClosed.Store(false)
	s.mu.Unlock()

	stream, err := s.streamer.Open(ctx, params)
	if err != nil {
		s.mu.Lock()
		s.state = StateFaulted
		s.err = err
		s.mu.Unlock()
		return fmt.Errorf("open recognition stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	buffer := NewFrameBuffer()
	done := make(chan struct{})

	s.mu.Lock()
	s.buffer = buffer
	s.done = done
	s.cancel = cancel
	s.state = StateStreaming
	s.mu.Unlock()
	slog.Info("recognition session started", "model", params.Model, "format", params.Format, "sample_rate", params.SampleRate)

	go s.run(runCtx, cancel, stream, buffer, handler, done)
	return nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, stream Stream, buffer *FrameBuffer, handler Handler, done chan struct{}) {
	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() {
			if err := stream.Close(); err != nil {
				slog.Debug("recognition stream close failed", "error", err)
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		closeStream()
	}()
	g.Go(func() error {
		return sendLoop(gctx, stream, buffer)
	})
	g.Go(func() error {
		defer cancel()
		return receiveLoop(stream, s.matcher, handler)
	})
	err := g.Wait()

	buffer.Close()
	closeStream()
	cancel()

	state := StateClosed
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionTimeout):
		slog.Info("recognition session timed out", "error", err)
	case s.forceClosed.Load():
		slog.Warn("recognition session force closed", "error", err)
	default:
		state = StateFaulted
		slog.Error("recognition session faulted", "error", err)
	}

	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()
	close(done)
}

func sendLoop(ctx context.Context, stream Stream, buffer *FrameBuffer) error {
	for {
		batch, ok := buffer.Next(ctx)
		for _, frame := range batch {
			if err := stream.Send(frame); err != nil {
				return fmt.Errorf("send audio frame: %w", err)
			}
		}
		if ok {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := stream.CloseSend(); err != nil {
			return fmt.Errorf("close send: %w", err)
		}
		return nil
	}
}

func receiveLoop(stream Stream, matcher TimeoutMatcher, handler Handler) error {
	next := 0
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				handler(Result{Kind: KindComplete})
				return nil
			}
			return fmt.Errorf("receive recognition result: %w", err)
		}

		result := classify(resp, matcher)
		switch result.Kind {
		case KindPartial:
			result.Sentence.Index = next
		case KindFinal:
			result.Sentence.Index = next
			next++
		}
		handler(result)

		switch result.Kind {
		case KindTimeout, KindError:
			return result.Err
		case KindComplete:
			return nil
		}
	}
}

// Stop seals the buffer, lets queued frames flush and waits for the
// service to finish. When ctx expires first the stream is force closed.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, state)
	}
	s.state = StateDraining
	buffer, done, cancel := s.buffer, s.done, s.cancel
	s.mu.Unlock()

	buffer.Seal()
	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		s.forceClosed.Store(true)
		cancel()
		<-done
		stopErr = fmt.Errorf("stop recognition session: %w", ctx.Err())
	}

	if rest := buffer.Remainder(); len(rest) > 0 {
		slog.Warn("discarded unsent audio frames", "frames", len(rest))
	}

	s.mu.Lock()
	if s.state != StateFaulted {
		s.state = StateClosed
	}
	s.mu.Unlock()
	return stopErr
}

// SendFrame queues a frame for the outbound goroutine. It only succeeds
// while the session is streaming.
func (s *Session) SendFrame(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return fmt.Errorf("%w: send while %s", ErrInvalidState, s.state)
	}
	return s.buffer.Push(frame)
}

func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.active()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the last session ended; nil after a clean completion.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the current session's goroutines have exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}
