package command

import (
	"context"
	"testing"
)

func newTestRegistry(phrases ...Command) *Registry {
	r := NewRegistry()
	for _, c := range phrases {
		if c.Action == nil {
			c.Action = func(context.Context, string) error { return nil }
		}
		r.Register(c)
	}
	return r
}

func TestResolveExactPhrase(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(
		Command{Phrase: "what time is it"},
		Command{Phrase: "stop listening"},
		Command{Phrase: "status", Keywords: []string{"status"}},
	)

	// Exactness invariant: every registered phrase resolves to itself.
	for _, cmd := range r.Commands() {
		got := r.Resolve(cmd.Phrase)
		if got == nil || got.Phrase != cmd.Phrase {
			t.Errorf("Resolve(%q) = %v, want the same command", cmd.Phrase, got)
		}
	}
}

func TestResolveNormalization(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(Command{Phrase: "What   Time  is it"})
	got := r.Resolve("  what time IS it  ")
	if got == nil || got.Phrase != "what time is it" {
		t.Fatalf("Resolve with odd casing/whitespace failed: %v", got)
	}
}

func TestResolveSubstringBothDirections(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(Command{Phrase: "battery level"})

	// Input contains the phrase.
	if got := r.Resolve("tell me the battery level please"); got == nil {
		t.Error("input containing the phrase should match")
	}
	// Phrase contains the input.
	if got := r.Resolve("battery"); got == nil {
		t.Error("phrase containing the input should match")
	}
}

func TestResolveKeywordTier(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(
		Command{Phrase: "status", Keywords: []string{"status"}},
		Command{Phrase: "set an alarm", Keywords: []string{"alarm", "wake me"}},
	)

	got := r.Resolve("what's the status")
	if got == nil || got.Phrase != "status" {
		t.Fatalf("keyword tier: Resolve(%q) = %v, want status", "what's the status", got)
	}

	got = r.Resolve("please wake me tomorrow")
	if got == nil || got.Phrase != "set an alarm" {
		t.Fatalf("keyword tier: got %v, want set an alarm", got)
	}
}

func TestResolveWordOverlap(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(
		Command{Phrase: "turn on flashlight"},
		Command{Phrase: "turn on bluetooth"},
	)

	// "flashlight on" shares 2/3 words with "turn on flashlight" and only
	// 1/3 with "turn on bluetooth"; the maximum wins.
	got := r.Resolve("flashlight turn please now")
	if got == nil || got.Phrase != "turn on flashlight" {
		t.Fatalf("word-overlap tier: got %v, want turn on flashlight", got)
	}
}

func TestResolveWordOverlapBelowThreshold(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(Command{Phrase: "turn on the flashlight"})

	// "turn around" shares only "turn" with the phrase (1/4 = 0.25).
	if got := r.Resolve("turn around"); got != nil {
		t.Errorf("expected no match below the word-overlap threshold, got %v", got)
	}
}

func TestResolveNoMatch(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(Command{Phrase: "status"})
	if got := r.Resolve("play some jazz"); got != nil {
		t.Errorf("Resolve(unrelated) = %v, want nil", got)
	}
	if got := r.Resolve(""); got != nil {
		t.Errorf("Resolve(empty) = %v, want nil", got)
	}
}

func TestRegisterOverwrite(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	called := ""
	r.Register(Command{Phrase: "ping", Action: func(context.Context, string) error {
		called = "first"
		return nil
	}})
	r.Register(Command{Phrase: "Ping", Action: func(context.Context, string) error {
		called = "second"
		return nil
	}})

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after overwrite", r.Len())
	}
	cmd := r.Resolve("ping")
	if cmd == nil {
		t.Fatal("Resolve(ping) returned nil")
	}
	if err := cmd.Action(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}
	if called != "second" {
		t.Errorf("overwrite did not take effect, action = %q", called)
	}
}

func TestRegistrationOrderFirstMatchWins(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(
		Command{Phrase: "play"},
		Command{Phrase: "play music"},
	)

	// Both phrases are substrings of the input; registration order decides.
	got := r.Resolve("please play music loudly")
	if got == nil || got.Phrase != "play" {
		t.Errorf("substring tier: got %v, want first-registered %q", got, "play")
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(
		Command{Phrase: "status"},
		Command{Phrase: "stop listening"},
	)

	if got := r.Suggest("statis"); got != "status" {
		t.Errorf("Suggest(statis) = %q, want status", got)
	}

	empty := NewRegistry()
	if got := empty.Suggest("anything"); got != "" {
		t.Errorf("Suggest on empty registry = %q, want \"\"", got)
	}
}
