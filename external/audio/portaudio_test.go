package audio

import (
	"errors"
	"testing"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/gordonklaus/portaudio"
)

func testDevices() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Index: 0, Name: "Speakers", MaxInputChannels: 0, MaxOutputChannels: 2},
		{Index: 1, Name: "Headset Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
		{Index: 3, Name: "USB Mic", MaxInputChannels: 2, DefaultSampleRate: 16000},
	}
}

func TestSelectInputDevice(t *testing.T) {
	d, err := selectInputDevice(testDevices(), 3)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d.Name != "USB Mic" {
		t.Fatalf("unexpected device: %s", d.Name)
	}
}

func TestSelectInputDevice_Unavailable(t *testing.T) {
	if _, err := selectInputDevice(testDevices(), 7); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable for unknown index, got %v", err)
	}
	if _, err := selectInputDevice(testDevices(), 0); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable for output-only device, got %v", err)
	}
}

func TestInputDevices_FiltersOutputOnly(t *testing.T) {
	got := inputDevices(testDevices())
	if len(got) != 2 {
		t.Fatalf("unexpected device count: %d", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("unexpected devices: %+v", got)
	}
}

func TestSamplesToFrame_LittleEndian(t *testing.T) {
	frame := samplesToFrame([]int16{1, -2})
	want := []byte{0x01, 0x00, 0xfe, 0xff}
	if string(frame) != string(want) {
		t.Fatalf("unexpected bytes: %x", []byte(frame))
	}
}
