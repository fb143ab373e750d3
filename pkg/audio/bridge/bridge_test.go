package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/perivale/sonara/pkg/audio"
)

func TestPCMConversionRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := bytesToInt16s(int16sToBytes(samples))

	if len(got) != len(samples) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestStartRecordingWithoutDevice(t *testing.T) {
	t.Parallel()

	b := New()
	if b.Connected() {
		t.Fatal("fresh bridge reports a connected device")
	}
	if _, err := b.StartRecording(context.Background()); !errors.Is(err, audio.ErrNoDevice) {
		t.Errorf("StartRecording error = %v, want ErrNoDevice", err)
	}
}

func TestPlayWithoutDevice(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.Play(context.Background(), []byte{0, 0}); !errors.Is(err, audio.ErrNoDevice) {
		t.Errorf("Play error = %v, want ErrNoDevice", err)
	}
	if b.Playing() {
		t.Error("Playing() = true after failed Play")
	}
}

func TestPermissionDenialFailsActiveRecording(t *testing.T) {
	t.Parallel()

	b := New()
	rec := &recording{bridge: b}
	b.rec = rec

	b.handleControl([]byte(`{"type":"permission","granted":false}`))

	if _, err := rec.Stop(); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Stop error = %v, want ErrPermissionDenied", err)
	}
	if b.rec != nil {
		t.Error("bridge still holds the failed recording")
	}
}

func TestStopWithoutPlaybackIsNoop(t *testing.T) {
	t.Parallel()

	b := New()
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

func TestMalformedControlMessageIgnored(t *testing.T) {
	t.Parallel()

	b := New()
	b.handleControl([]byte(`{not json`))
	b.handleControl([]byte(`{"type":"unknown_event"}`))

	if b.permissionDenied {
		t.Error("malformed input flipped permission state")
	}
}
