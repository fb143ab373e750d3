package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/perivale/sonara/internal/command"
)

// registerBuiltins installs the commands that ship with the assistant.
// Aliased phrasings are handled by the registry's keyword and word-overlap
// tiers, so each command registers once with its canonical phrase.
func (a *App) registerBuiltins() {
	a.registry.Register(command.Command{
		Phrase:      "what time is it",
		Description: "Tells the current time",
		Keywords:    []string{"time", "clock"},
		Action: func(ctx context.Context, _ string) error {
			now := time.Now().Format("3:04 PM")
			return a.speaker.Say(ctx, "It's "+now+".")
		},
	})

	a.registry.Register(command.Command{
		Phrase:      "what can you do",
		Description: "Lists the available commands",
		Keywords:    []string{"help"},
		Action: func(ctx context.Context, _ string) error {
			return a.speaker.Say(ctx, a.helpText())
		},
	})

	a.registry.Register(command.Command{
		Phrase:      "clear history",
		Description: "Forgets the interaction history",
		Keywords:    []string{"forget"},
		Action: func(ctx context.Context, _ string) error {
			if err := a.store.Clear(ctx); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			return a.speaker.Say(ctx, "History cleared.")
		},
	})

	a.registry.Register(command.Command{
		Phrase:      "stop listening",
		Description: "Ends the recognition session",
		Keywords:    []string{"stop"},
		Action: func(ctx context.Context, _ string) error {
			return a.manager.Stop(ctx)
		},
	})
}

// helpText builds the spoken summary of registered commands.
func (a *App) helpText() string {
	var b strings.Builder
	b.WriteString("You can say: ")
	for i, cmd := range a.registry.Commands() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(cmd.Phrase)
	}
	b.WriteString(". You can also ask me to open apps")
	if w := a.cfg.Assistant.WakeWord; w != "" {
		b.WriteString(", or say " + w + " followed by a question")
	}
	b.WriteString(".")
	return b.String()
}
