package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/perivale/sonara/pkg/provider/stt"
	sttmock "github.com/perivale/sonara/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimaryServes(t *testing.T) {
	primary := &sttmock.Provider{
		Transcripts: []*stt.Transcript{{Text: "hello world", Confidence: 0.9}},
	}
	secondary := &sttmock.Provider{
		Transcripts: []*stt.Transcript{{Text: "should not be used", Confidence: 0.9}},
	}

	f := NewSTTFallback(primary, FallbackConfig{})
	f.AddFallback(secondary, FallbackConfig{})

	tr, err := f.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello world" {
		t.Fatalf("Text = %q, want hello world", tr.Text)
	}
	if secondary.Calls() != 0 {
		t.Fatal("secondary should not have been called")
	}
}

func TestSTTFallback_FailsOverToSecondary(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errTest}
	secondary := &sttmock.Provider{
		Transcripts: []*stt.Transcript{{Text: "rescued", Confidence: 0.8}},
	}

	f := NewSTTFallback(primary, FallbackConfig{})
	f.AddFallback(secondary, FallbackConfig{})

	tr, err := f.Transcribe(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "rescued" {
		t.Fatalf("Text = %q, want rescued", tr.Text)
	}
}

func TestSTTFallback_ReadyUsesAnyHealthyEntry(t *testing.T) {
	primary := &sttmock.Provider{ReadyErr: errTest}
	secondary := &sttmock.Provider{}

	f := NewSTTFallback(primary, FallbackConfig{})
	f.AddFallback(secondary, FallbackConfig{})

	if err := f.Ready(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errTest}

	f := NewSTTFallback(primary, FallbackConfig{})

	_, err := f.Transcribe(context.Background(), []byte{1, 2, 3})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
