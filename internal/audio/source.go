package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when the configured capture device
	// does not exist, has no input channels, or cannot be claimed.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrCaptureFault is returned when a running capture stream fails.
	ErrCaptureFault = errors.New("audio capture fault")
)

// Frame is one chunk of 16-bit little-endian PCM. It is never modified
// after it has been read from a Handle.
type Frame []byte

type Format struct {
	DeviceID   int
	SampleRate int
	Channels   int
	FrameBytes int
}

type Source interface {
	Open(ctx context.Context, format Format) (Handle, error)
}

type Handle interface {
	// ReadFrame blocks until exactly FrameBytes bytes have been captured.
	ReadFrame(ctx context.Context) (Frame, error)
	// Close releases the device. Calling it more than once is safe.
	Close() error
}

type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

type DeviceLister interface {
	InputDevices() ([]Device, error)
}
