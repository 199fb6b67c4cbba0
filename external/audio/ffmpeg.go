package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopTimeout  = 1200 * time.Millisecond
)

// FFmpegSource captures through an ffmpeg subprocess writing s16le PCM to
// stdout. It addresses devices by name, so Format.DeviceID is ignored.
type FFmpegSource struct {
	command     string
	inputFormat string
	inputDevice string
	extraArgs   []string
}

func NewFFmpegSource(command, inputFormat, inputDevice string) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	return &FFmpegSource{command: command, inputFormat: inputFormat, inputDevice: inputDevice}
}

func (s *FFmpegSource) Open(ctx context.Context, format audio.Format) (audio.Handle, error) {
	args := append([]string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.inputFormat,
		"-i", s.inputDevice,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
	}, s.extraArgs...)
	args = append(args, "-")

	cmd := exec.Command(s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create ffmpeg stdout pipe: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", audio.ErrDeviceUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", audio.ErrDeviceUnavailable, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", audio.ErrDeviceUnavailable)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(ffmpegStartupGrace):
	}
	slog.Info("ffmpeg capture started", "input_format", s.inputFormat, "input_device", s.inputDevice, "sample_rate", format.SampleRate, "frame_bytes", format.FrameBytes)

	return &ffmpegHandle{
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		frameBytes: format.FrameBytes,
	}, nil
}

type ffmpegHandle struct {
	stdout     io.ReadCloser
	stderr     *bytes.Buffer
	process    *os.Process
	waitErr    <-chan error
	frameBytes int

	stopOnce sync.Once
	stopErr  error
}

func (h *ffmpegHandle) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := make(audio.Frame, h.frameBytes)
	if _, err := io.ReadFull(h.stdout, frame); err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrCaptureFault, err)
	}
	return frame, nil
}

func (h *ffmpegHandle) Close() error {
	h.stopOnce.Do(func() {
		_ = h.process.Signal(os.Interrupt)

		select {
		case err, ok := <-h.waitErr:
			if ok {
				h.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopTimeout):
			_ = h.process.Kill()
			if err, ok := <-h.waitErr; ok {
				h.stopErr = normalizeStopErr(err)
			}
		}

		if h.stopErr != nil && h.stderr.Len() > 0 {
			h.stopErr = fmt.Errorf("%w: %s", h.stopErr, strings.TrimSpace(h.stderr.String()))
		}
	})
	return h.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
