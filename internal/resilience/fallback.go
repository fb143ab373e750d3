package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned by a [FallbackGroup] when every entry either
// failed or was skipped due to an open circuit breaker.
var ErrAllFailed = errors.New("all fallback entries failed")

// FallbackConfig configures a single entry within a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the breaker configuration for this entry. The Name
	// field is filled in automatically from the entry label when empty.
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	label   string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of values of some provider type, each
// guarded by its own [CircuitBreaker]. [FallbackGroup.Execute] walks the
// list in order, skipping entries with open breakers, until one call
// succeeds.
type FallbackGroup[T any] struct {
	mu      sync.RWMutex
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates a group seeded with a primary entry.
func NewFallbackGroup[T any](label string, primary T, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{}
	g.add(label, primary, cfg)
	return g
}

// AddFallback appends another entry to the group. Entries are tried in
// insertion order.
func (g *FallbackGroup[T]) AddFallback(label string, value T, cfg FallbackConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(label, value, cfg)
}

// add appends an entry. Callers adding after construction must hold g.mu.
func (g *FallbackGroup[T]) add(label string, value T, cfg FallbackConfig) {
	bcfg := cfg.CircuitBreaker
	if bcfg.Name == "" {
		bcfg.Name = label
	}
	g.entries = append(g.entries, fallbackEntry[T]{
		label:   label,
		value:   value,
		breaker: NewCircuitBreaker(bcfg),
	})
}

// Len returns the number of entries in the group.
func (g *FallbackGroup[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Primary returns the first entry's value and label.
func (g *FallbackGroup[T]) Primary() (T, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entries[0].value, g.entries[0].label
}

// Execute tries each entry in order through its breaker until fn succeeds.
// Entries whose breakers are open are skipped. If every entry fails or is
// skipped, the returned error wraps [ErrAllFailed] together with the last
// observed error.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, value T) error) error {
	g.mu.RLock()
	entries := make([]fallbackEntry[T], len(g.entries))
	copy(entries, g.entries)
	g.mu.RUnlock()

	var lastErr error
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.breaker.Execute(func() error {
			return fn(ctx, e.value)
		})
		if err == nil {
			if i > 0 {
				slog.Info("fallback entry served request",
					"entry", e.label,
					"position", i)
			}
			return nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping entry with open circuit breaker",
				"entry", e.label)
		} else {
			slog.Warn("fallback entry failed",
				"entry", e.label,
				"error", err)
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
	}
	return ErrAllFailed
}

// ExecuteWithResult runs a result-producing call through a [FallbackGroup].
// It exists as a package-level function because Go methods cannot introduce
// additional type parameters.
func ExecuteWithResult[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(ctx context.Context, value T) (R, error)) (R, error) {
	var result R
	err := g.Execute(ctx, func(ctx context.Context, value T) error {
		r, err := fn(ctx, value)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
