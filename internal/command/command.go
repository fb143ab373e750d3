// Package command implements the ordered registry of built-in voice commands
// and the tiered text-resolution logic used by the dispatcher.
package command

import (
	"context"
	"strings"

	"github.com/perivale/sonara/internal/fuzzy"
)

// wordOverlapThreshold is the minimum shared-word ratio (shared words divided
// by phrase words) required for the word-overlap tier to accept a command.
const wordOverlapThreshold = 0.5

// Action is the operation executed when a command matches. The raw spoken
// text is passed through so an action can inspect trailing arguments.
type Action func(ctx context.Context, text string) error

// Command is an immutable registered voice command.
type Command struct {
	// Phrase is the canonical trigger phrase, stored lower-cased. It is the
	// registry key: registering the same phrase twice overwrites.
	Phrase string

	// Description is an optional human-readable summary shown in help output.
	Description string

	// Keywords are additional loose-match tokens. A keyword matching as a
	// substring of the spoken text resolves to this command when no exact or
	// phrase-substring tier matched first.
	Keywords []string

	// Action runs when the command is dispatched.
	Action Action
}

// Registry holds registered commands in registration order.
// Register must complete before Resolve is called concurrently; after
// startup the registry is read-only and safe for concurrent use.
type Registry struct {
	order    []string
	byPhrase map[string]Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPhrase: make(map[string]Command)}
}

// Register inserts cmd keyed by its normalised phrase. Re-registering a
// phrase overwrites the previous command but keeps its original position in
// iteration order (last write wins for the payload, first write for order).
func (r *Registry) Register(cmd Command) {
	phrase := Normalize(cmd.Phrase)
	if phrase == "" {
		return
	}
	cmd.Phrase = phrase
	if _, exists := r.byPhrase[phrase]; !exists {
		r.order = append(r.order, phrase)
	}
	r.byPhrase[phrase] = cmd
}

// Commands returns all registered commands in registration order.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, phrase := range r.order {
		out = append(out, r.byPhrase[phrase])
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.order) }

// Resolve matches text against the registry and returns the matched command,
// or nil when nothing matches. Tiers are tried in order and matching stops at
// the first tier that yields a result:
//
//  1. Exact normalised-phrase match.
//  2. Substring containment in either direction (text contains a phrase, or
//     a phrase contains the text).
//  3. Any keyword of any command is a substring of the text.
//  4. Word-overlap scoring: |shared words| / |phrase words|, best score wins
//     when it reaches 0.5.
//
// Within tiers 2 and 3 iteration follows registration order, first match
// wins. Tier 4 explicitly finds the maximum.
func (r *Registry) Resolve(text string) *Command {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}

	// Tier 1: exact phrase.
	if cmd, ok := r.byPhrase[norm]; ok {
		return &cmd
	}

	// Tier 2: substring containment, either direction.
	for _, phrase := range r.order {
		if strings.Contains(norm, phrase) || strings.Contains(phrase, norm) {
			cmd := r.byPhrase[phrase]
			return &cmd
		}
	}

	// Tier 3: keyword containment.
	for _, phrase := range r.order {
		cmd := r.byPhrase[phrase]
		for _, kw := range cmd.Keywords {
			kw = Normalize(kw)
			if kw != "" && strings.Contains(norm, kw) {
				return &cmd
			}
		}
	}

	// Tier 4: word-overlap scoring.
	if cmd := r.bestWordOverlap(norm); cmd != nil {
		return cmd
	}
	return nil
}

// bestWordOverlap scores every command by shared-word ratio against the
// normalised input and returns the best one at or above the threshold.
func (r *Registry) bestWordOverlap(norm string) *Command {
	inputWords := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		inputWords[w] = struct{}{}
	}

	var best *Command
	bestScore := 0.0

	for _, phrase := range r.order {
		words := strings.Fields(phrase)
		if len(words) == 0 {
			continue
		}
		shared := 0
		for _, w := range words {
			if _, ok := inputWords[w]; ok {
				shared++
			}
		}
		score := float64(shared) / float64(len(words))
		if score >= wordOverlapThreshold && score > bestScore {
			cmd := r.byPhrase[phrase]
			best = &cmd
			bestScore = score
		}
	}
	return best
}

// Suggest returns the phrase most similar to text by fuzzy score, for use in
// "did you mean" responses. Returns "" when the registry is empty.
func (r *Registry) Suggest(text string) string {
	idx, _ := fuzzy.BestMatch(Normalize(text), len(r.order), func(i int) string {
		return r.order[i]
	})
	if idx < 0 {
		return ""
	}
	return r.order[idx]
}

// Normalize lower-cases s, trims it, and collapses internal whitespace runs
// to single spaces. All registry keys and lookups go through this.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
