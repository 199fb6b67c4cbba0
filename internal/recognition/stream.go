package recognition

import (
	"context"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
)

const StatusOK = 200

// Params is the per-session configuration handed to a Streamer. It is
// never modified once a session has started.
type Params struct {
	Model      string
	Format     string
	SampleRate int
	Channels   int
	Language   string

	APIKey    string
	Workspace string

	DisfluencyRemoval   bool
	Diarization         bool
	SpeakerCount        int
	TimestampAlignment  bool
	SpecialWordFilter   string
	AudioEventDetection bool
	PhraseID            string
}

// Response is one message from the recognition service. A nil Sentence
// and nil Usage with StatusOK marks the end of the task.
type Response struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Sentence   *Sentence
	Usage      *Usage

	// IdleTimeout marks a timeout the adapter recognized in its
	// transport's own terms.
	IdleTimeout bool
}

// Stream is a duplex recognition call. Send and CloseSend are only called
// from the outbound goroutine, Recv only from the inbound one; Close may
// be called from anywhere and more than once.
type Stream interface {
	Send(frame audio.Frame) error
	CloseSend() error
	// Recv returns io.EOF once the service has closed the stream.
	Recv() (*Response, error)
	Close() error
}

type Streamer interface {
	Open(ctx context.Context, params Params) (Stream, error)
}
