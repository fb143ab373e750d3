package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store. It backs the engine when no database is
// configured and doubles as the reference implementation for the dedup
// semantics.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
	window  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemOption is a functional option for MemStore.
type MemOption func(*MemStore)

// WithDedupWindow overrides the dedup window. Zero disables dedup.
func WithDedupWindow(d time.Duration) MemOption {
	return func(s *MemStore) {
		s.window = d
	}
}

// NewMemStore creates an empty MemStore with the default dedup window.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		window: DefaultDedupWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Repeat of the latest entry within the window refreshes its timestamp.
	if n := len(s.entries); n > 0 && s.window > 0 {
		last := &s.entries[n-1]
		if last.contentKey() == entry.contentKey() && now.Sub(last.CreatedAt) <= s.window {
			last.CreatedAt = now
			return *last, nil
		}
	}

	if entry.ID == "" {
		id, err := NewID(now)
		if err != nil {
			return Entry{}, err
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

// List implements Store. Semantic queries are not supported in memory; the
// Query field is ignored and results are chronological, newest first.
func (s *MemStore) List(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Clear implements Store.
func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Ping implements Store.
func (s *MemStore) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// String makes debugging output readable.
func (s *MemStore) String() string {
	return fmt.Sprintf("MemStore(%d entries)", s.Len())
}
