// Package history defines the append-only interaction log.
//
// Every resolved action produces at most one entry: either a plain command
// (the phrase that matched) or a chat interaction (the user's question and
// the assistant's reply). Entries are deduplicated against the most recent
// entry when the same normalized content recurs within a short window; the
// recurrence refreshes the retained entry's timestamp instead of appending
// a duplicate.
package history

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind discriminates plain command entries from chat interactions.
type Kind string

const (
	// KindCommand marks an entry produced by a registry command or an app
	// launch.
	KindCommand Kind = "command"

	// KindChat marks a question/response pair produced by the LLM.
	KindChat Kind = "chat"
)

// DefaultDisplayLimit is the rune count beyond which Display truncates.
const DefaultDisplayLimit = 120

// DefaultDedupWindow is the default span within which a repeated entry
// refreshes the previous one instead of appending.
const DefaultDedupWindow = 10 * time.Second

// Entry is one record in the interaction log.
type Entry struct {
	// ID is a ULID assigned by the store on append.
	ID string

	// Kind discriminates command entries from chat entries.
	Kind Kind

	// Text is the command phrase, or the user's question for chat entries.
	Text string

	// Response is the assistant's reply. Empty for command entries.
	Response string

	// CreatedAt is when the entry was appended, refreshed on dedup.
	CreatedAt time.Time
}

// Display returns the text to render in a history list, cut at limit runes,
// and whether the full content exceeds the cut (the entry is expandable).
// A limit of 0 uses DefaultDisplayLimit.
func (e Entry) Display(limit int) (string, bool) {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	full := e.Text
	if e.Response != "" {
		full = e.Text + " — " + e.Response
	}
	runes := []rune(full)
	if len(runes) <= limit {
		return full, false
	}
	return strings.TrimSpace(string(runes[:limit])) + "…", true
}

// contentKey is the normalized identity used for dedup comparison.
func (e Entry) contentKey() string {
	return string(e.Kind) + "\x00" +
		strings.ToLower(strings.TrimSpace(e.Text)) + "\x00" +
		strings.ToLower(strings.TrimSpace(e.Response))
}

// Filter narrows List results.
type Filter struct {
	// Kind restricts results to one entry kind when non-empty.
	Kind Kind

	// Limit caps the number of returned entries. 0 means no cap.
	Limit int

	// Query, when non-empty, requests semantic recall: stores with an
	// embedding index return the entries nearest to the query, most similar
	// first. Stores without one fall back to chronological order.
	Query string
}

// Store is the persistence abstraction for the interaction log.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records entry, assigning its ID and CreatedAt when zero.
	// When entry repeats the most recent stored entry within the dedup
	// window, the previous entry's timestamp is refreshed and returned
	// instead of a new record.
	Append(ctx context.Context, entry Entry) (Entry, error)

	// List returns entries matching filter, newest first unless filter.Query
	// requests semantic ordering.
	List(ctx context.Context, filter Filter) ([]Entry, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// NewID returns a ULID string for the given timestamp.
func NewID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", fmt.Errorf("history: new id: %w", err)
	}
	return id.String(), nil
}
