package recognition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
)

type nextResult struct {
	frames []audio.Frame
	ok     bool
}

func nextAsync(ctx context.Context, b *FrameBuffer) <-chan nextResult {
	ch := make(chan nextResult, 1)
	go func() {
		frames, ok := b.Next(ctx)
		ch <- nextResult{frames: frames, ok: ok}
	}()
	return ch
}

func TestFrameBuffer_NextReturnsBatchInOrder(t *testing.T) {
	b := NewFrameBuffer()
	for _, f := range []string{"a", "b", "c"} {
		if err := b.Push(audio.Frame(f)); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}
	frames, ok := b.Next(context.Background())
	if !ok || len(frames) != 3 {
		t.Fatalf("unexpected batch: ok=%v len=%d", ok, len(frames))
	}
	if string(frames[0]) != "a" || string(frames[2]) != "c" {
		t.Fatalf("frames out of order: %q", frames)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not cleared: %d", b.Len())
	}
}

func TestFrameBuffer_NextWaitsForPush(t *testing.T) {
	b := NewFrameBuffer()
	ch := nextAsync(context.Background(), b)

	select {
	case <-ch:
		t.Fatal("Next returned before any frame was pushed")
	case <-time.After(30 * time.Millisecond):
	}
	if err := b.Push(audio.Frame("x")); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	select {
	case got := <-ch:
		if !got.ok || len(got.frames) != 1 {
			t.Fatalf("unexpected result: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after push")
	}
}

func TestFrameBuffer_SealDrainsThenEnds(t *testing.T) {
	b := NewFrameBuffer()
	_ = b.Push(audio.Frame("a"))
	b.Seal()

	if err := b.Push(audio.Frame("b")); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed after seal, got %v", err)
	}
	frames, ok := b.Next(context.Background())
	if !ok || len(frames) != 1 {
		t.Fatalf("expected queued frame after seal, got ok=%v len=%d", ok, len(frames))
	}
	if _, ok := b.Next(context.Background()); ok {
		t.Fatal("expected end of stream once sealed and empty")
	}
}

func TestFrameBuffer_SealWakesWaiter(t *testing.T) {
	b := NewFrameBuffer()
	ch := nextAsync(context.Background(), b)
	time.Sleep(10 * time.Millisecond)
	b.Seal()
	select {
	case got := <-ch:
		if got.ok {
			t.Fatalf("expected ok=false, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("seal did not wake waiter")
	}
}

func TestFrameBuffer_CloseDiscardsAndWakes(t *testing.T) {
	b := NewFrameBuffer()
	_ = b.Push(audio.Frame("a"))
	b.Close()
	if frames, ok := b.Next(context.Background()); ok || len(frames) != 0 {
		t.Fatalf("expected empty and closed, got ok=%v len=%d", ok, len(frames))
	}

	b2 := NewFrameBuffer()
	ch := nextAsync(context.Background(), b2)
	time.Sleep(10 * time.Millisecond)
	b2.Close()
	select {
	case got := <-ch:
		if got.ok || len(got.frames) != 0 {
			t.Fatalf("expected empty and closed, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}
	if err := b2.Push(audio.Frame("b")); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed after close, got %v", err)
	}
}

func TestFrameBuffer_ContextCancelWakesWaiter(t *testing.T) {
	b := NewFrameBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	ch := nextAsync(ctx, b)
	cancel()
	select {
	case got := <-ch:
		if got.ok {
			t.Fatalf("expected ok=false, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not wake waiter")
	}
}

func TestFrameBuffer_Remainder(t *testing.T) {
	b := NewFrameBuffer()
	_ = b.Push(audio.Frame("a"))
	_ = b.Push(audio.Frame("b"))
	rest := b.Remainder()
	if len(rest) != 2 {
		t.Fatalf("unexpected remainder: %d", len(rest))
	}
	if len(b.Remainder()) != 0 {
		t.Fatal("remainder was not cleared")
	}
}
