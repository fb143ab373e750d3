// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/perivale/sonara/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
// When EmbedFunc is nil, Embed returns a deterministic vector derived from
// the input text so that identical texts map to identical vectors.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality reported by Dimensions. Defaults to 8
	// when zero.
	Dim int

	// EmbedFunc, if non-nil, overrides the default deterministic embedding.
	EmbedFunc func(text string) []float32

	// EmbedErr, if non-nil, is returned from Embed.
	EmbedErr error

	// Texts records every string passed to Embed in order.
	Texts []string
}

// Compile-time interface check.
var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

func (p *Provider) embed(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	v := make([]float32, p.dim())
	for i, r := range text {
		v[i%len(v)] += float32(r) / 1000
	}
	return v
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.embed(text), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dim() }
