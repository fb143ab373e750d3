package resilience

import (
	"context"

	"github.com/perivale/sonara/pkg/provider/stt"
)

// STTFallback wraps multiple [stt.Provider] instances behind a single
// Provider interface with per-entry circuit breakers.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STT failover chain with primary first.
func NewSTTFallback(primary stt.Provider, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary.Name(), primary, cfg),
	}
}

// AddFallback appends another provider to the chain.
func (f *STTFallback) AddFallback(p stt.Provider, cfg FallbackConfig) {
	f.group.AddFallback(p.Name(), p, cfg)
}

// Transcribe implements [stt.Provider] by routing through the failover chain.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte) (*stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, audio)
	})
}

// Ready implements [stt.Provider]. The chain is ready when at least one
// entry is ready.
func (f *STTFallback) Ready(ctx context.Context) error {
	return f.group.Execute(ctx, func(ctx context.Context, p stt.Provider) error {
		return p.Ready(ctx)
	})
}

// Name returns the primary provider's name.
func (f *STTFallback) Name() string {
	_, label := f.group.Primary()
	return label
}
