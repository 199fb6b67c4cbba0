package recognition

import (
	"context"
	"errors"
	"sync"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
)

var ErrBufferClosed = errors.New("frame buffer closed")

// FrameBuffer is the FIFO between the capture loop and the outbound
// sender. Push never blocks; Next suspends until there is something to do.
type FrameBuffer struct {
	mu     sync.Mutex
	frames []audio.Frame
	sealed bool
	closed bool

	signal   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (b *FrameBuffer) Push(frame audio.Frame) error {
	b.mu.Lock()
	if b.sealed || b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.frames = append(b.frames, frame)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// Next returns every queued frame in push order and clears them. It
// reports ok=false once the buffer is sealed and empty, closed, or ctx is
// done.
func (b *FrameBuffer) Next(ctx context.Context) ([]audio.Frame, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		if len(b.frames) > 0 {
			batch := b.frames
			b.frames = nil
			b.mu.Unlock()
			return batch, true
		}
		if b.sealed {
			b.mu.Unlock()
			return nil, false
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-b.done:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Remainder drains whatever is queued without waiting.
func (b *FrameBuffer) Remainder() []audio.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	rest := b.frames
	b.frames = nil
	return rest
}

// Seal stops intake. Frames already queued keep flowing out of Next.
func (b *FrameBuffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
	b.wake()
}

// Close discards queued frames and wakes any waiter.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.frames = nil
	b.mu.Unlock()
	b.wake()
}

func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *FrameBuffer) wake() {
	b.doneOnce.Do(func() {
		close(b.done)
	})
}
