package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from a PortAudio input device selected by index.
type PortAudioSource struct{}

func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

func (s *PortAudioSource) Open(ctx context.Context, format audio.Format) (audio.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %v", audio.ErrDeviceUnavailable, err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: list devices: %v", audio.ErrDeviceUnavailable, err)
	}
	device, err := selectInputDevice(devices, format.DeviceID)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	samples := make([]int16, format.FrameBytes/2)
	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = len(samples) / format.Channels

	stream, err := portaudio.OpenStream(params, samples)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open device %d (%s): %v", audio.ErrDeviceUnavailable, device.Index, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start device %d (%s): %v", audio.ErrDeviceUnavailable, device.Index, device.Name, err)
	}
	slog.Info("portaudio capture started", "device_id", device.Index, "device_name", device.Name, "sample_rate", format.SampleRate, "frame_bytes", format.FrameBytes)

	return &portAudioHandle{stream: stream, samples: samples}, nil
}

func (s *PortAudioSource) InputDevices() ([]audio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer func() {
		_ = portaudio.Terminate()
	}()
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return inputDevices(devices), nil
}

func inputDevices(devices []*portaudio.DeviceInfo) []audio.Device {
	out := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.Device{
			ID:                d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}
	return out
}

func selectInputDevice(devices []*portaudio.DeviceInfo, id int) (*portaudio.DeviceInfo, error) {
	for _, d := range devices {
		if d == nil || d.Index != id {
			continue
		}
		if d.MaxInputChannels <= 0 {
			return nil, fmt.Errorf("%w: device %d (%s) has no input channels", audio.ErrDeviceUnavailable, id, d.Name)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: device %d not found", audio.ErrDeviceUnavailable, id)
}

type portAudioHandle struct {
	stream  *portaudio.Stream
	samples []int16

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

func (h *portAudioHandle) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("%w: stream closed", audio.ErrCaptureFault)
	}
	if err := h.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("%w: %v", audio.ErrCaptureFault, err)
	}
	return samplesToFrame(h.samples), nil
}

func (h *portAudioHandle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		if err := h.stream.Stop(); err != nil {
			h.closeErr = err
		}
		if err := h.stream.Close(); err != nil && h.closeErr == nil {
			h.closeErr = err
		}
		if err := portaudio.Terminate(); err != nil && h.closeErr == nil {
			h.closeErr = err
		}
	})
	return h.closeErr
}

func samplesToFrame(samples []int16) audio.Frame {
	frame := make(audio.Frame, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
	}
	return frame
}
