package resilience

import (
	"context"

	"github.com/perivale/sonara/pkg/provider/llm"
)

// LLMFallback wraps multiple [llm.Provider] instances behind a single
// Provider interface with per-entry circuit breakers. Requests go to the
// primary provider; if it fails or its breaker is open, fallbacks are tried
// in order.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLM failover chain with primary first.
func NewLLMFallback(primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary.Name(), primary, cfg),
	}
}

// AddFallback appends another provider to the chain.
func (f *LLMFallback) AddFallback(p llm.Provider, cfg FallbackConfig) {
	f.group.AddFallback(p.Name(), p, cfg)
}

// Complete implements [llm.Provider] by routing through the failover chain.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Name returns the primary provider's name.
func (f *LLMFallback) Name() string {
	_, label := f.group.Primary()
	return label
}
