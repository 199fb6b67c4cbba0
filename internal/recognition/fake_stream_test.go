package recognition

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
)

var errStreamClosed = errors.New("use of closed network connection")

// fakeStream replays queued responses and records what was sent.
type fakeStream struct {
	mu             sync.Mutex
	sent           []audio.Frame
	closeSendCalls int
	closeCalls     int
	sendErr        error

	responses   chan *Response
	eof         chan struct{}
	eofOnce     sync.Once
	closed      chan struct{}
	closeOnce   sync.Once
	onCloseSend func(*fakeStream)
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		responses: make(chan *Response, 64),
		eof:       make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// completeOnCloseSend makes the fake answer a finish request the way the
// service does: optional trailing responses, a completion and EOF.
func completeOnCloseSend(trailing ...*Response) func(*fakeStream) {
	return func(f *fakeStream) {
		for _, r := range trailing {
			f.push(r)
		}
		f.push(&Response{StatusCode: StatusOK})
		f.finish()
	}
}

func (f *fakeStream) push(resp *Response) {
	f.responses <- resp
}

func (f *fakeStream) finish() {
	f.eofOnce.Do(func() { close(f.eof) })
}

func (f *fakeStream) Send(frame audio.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	select {
	case <-f.closed:
		return errStreamClosed
	default:
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSendCalls++
	hook := f.onCloseSend
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeStream) Recv() (*Response, error) {
	select {
	case r := <-f.responses:
		return r, nil
	default:
	}
	select {
	case r := <-f.responses:
		return r, nil
	case <-f.eof:
		select {
		case r := <-f.responses:
			return r, nil
		default:
			return nil, io.EOF
		}
	case <-f.closed:
		return nil, errStreamClosed
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) sentFrames() []audio.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audio.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) closeSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSendCalls
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeStreamer struct {
	stream  *fakeStream
	openErr error
	params  []Params
}

func (s *fakeStreamer) Open(_ context.Context, params Params) (Stream, error) {
	s.params = append(s.params, params)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

// resultRecorder collects handler calls.
type resultRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *resultRecorder) handle(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultRecorder) snapshot() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func (r *resultRecorder) kinds() []Kind {
	var kinds []Kind
	for _, res := range r.snapshot() {
		kinds = append(kinds, res.Kind)
	}
	return kinds
}

func partial(text string) *Response {
	return &Response{StatusCode: StatusOK, Sentence: &Sentence{Text: text}}
}

func final(text string, endMs int64) *Response {
	return &Response{StatusCode: StatusOK, Sentence: &Sentence{Text: text, EndMs: endMs, End: true}}
}
