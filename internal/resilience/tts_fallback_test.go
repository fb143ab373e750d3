package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/perivale/sonara/pkg/provider/tts"
	ttsmock "github.com/perivale/sonara/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimaryServes(t *testing.T) {
	primary := &ttsmock.Provider{Audio: []byte{1, 2, 3}}
	secondary := &ttsmock.Provider{Audio: []byte{9, 9, 9}}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("secondary", secondary, FallbackConfig{})

	audio, err := f.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte{1, 2, 3}) {
		t.Fatalf("audio = %v, want primary's audio", audio)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary should not have been called")
	}
}

func TestTTSFallback_FailsOverToSecondary(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	secondary := &ttsmock.Provider{Audio: []byte{9, 9, 9}}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("secondary", secondary, FallbackConfig{})

	audio, err := f.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte{9, 9, 9}) {
		t.Fatalf("audio = %v, want secondary's audio", audio)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errTest}
	secondary := &ttsmock.Provider{
		Voices: []tts.VoiceProfile{{ID: "v2", Name: "Backup"}},
	}

	f := NewTTSFallback("primary", primary, FallbackConfig{})
	f.AddFallback("secondary", secondary, FallbackConfig{})

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Fatalf("voices = %v, want the backup catalogue", voices)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}

	f := NewTTSFallback("primary", primary, FallbackConfig{})

	_, err := f.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "v1"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
