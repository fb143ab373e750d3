package resilience

import (
	"context"

	"github.com/perivale/sonara/pkg/provider/tts"
)

// TTSFallback wraps multiple [tts.Provider] instances behind a single
// Provider interface with per-entry circuit breakers.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a TTS failover chain with primary first. The label
// identifies the primary in logs.
func NewTTSFallback(label string, primary tts.Provider, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(label, primary, cfg),
	}
}

// AddFallback appends another provider to the chain.
func (f *TTSFallback) AddFallback(label string, p tts.Provider, cfg FallbackConfig) {
	f.group.AddFallback(label, p, cfg)
}

// Synthesize implements [tts.Provider] by routing through the failover chain.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices implements [tts.Provider]. Voices from the first healthy entry
// are returned.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
