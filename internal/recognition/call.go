package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"golang.org/x/sync/errgroup"
)

const fileChunkBytes = 12800

var ErrInvalidAudioFile = errors.New("invalid audio file")

// CallResult aggregates a one-shot file recognition.
type CallResult struct {
	Sentences []Sentence
	Usages    []Usage
	Last      *Response
}

func (r *CallResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sentences {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Call recognizes a whole audio file in one duplex call. A non-success
// status stops collection; what was gathered so far is returned with the
// error.
func Call(ctx context.Context, streamer Streamer, params Params, path string, matcher TimeoutMatcher) (*CallResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioFile, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidAudioFile, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidAudioFile, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudioFile, err)
	}
	defer func() {
		_ = f.Close()
	}()

	stream, err := streamer.Open(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}
	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() {
			_ = stream.Close()
		})
	}
	defer closeStream()

	matcher = matcher.orDefault()
	result := &CallResult{}
	g, gctx := errgroup.WithContext(ctx)
	// Recv only unblocks once the stream is closed.
	go func() {
		<-gctx.Done()
		closeStream()
	}()
	g.Go(func() error {
		return sendFile(gctx, stream, f)
	})
	g.Go(func() error {
		return collect(stream, matcher, result)
	})
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func sendFile(ctx context.Context, stream Stream, r io.Reader) error {
	buf := make([]byte, fileChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make(audio.Frame, n)
			copy(chunk, buf[:n])
			if sendErr := stream.Send(chunk); sendErr != nil {
				return fmt.Errorf("send audio chunk: %w", sendErr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read audio file: %w", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	return nil
}

func collect(stream Stream, matcher TimeoutMatcher, out *CallResult) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive recognition result: %w", err)
		}
		out.Last = resp

		result := classify(resp, matcher)
		switch result.Kind {
		case KindFinal:
			sentence := result.Sentence
			sentence.Index = len(out.Sentences)
			out.Sentences = append(out.Sentences, sentence)
			if result.Usage != nil {
				out.Usages = append(out.Usages, *result.Usage)
			}
		case KindUsage:
			out.Usages = append(out.Usages, *result.Usage)
		case KindTimeout, KindError:
			return result.Err
		case KindComplete:
			return nil
		}
	}
}
