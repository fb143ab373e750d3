// Package dispatch routes one transcript through the assistant's decision
// tree: wake-word conversation, explicit launch phrasing, the command
// registry, and finally the LLM catch-all with a structured app-launch
// directive. Collaborator failures never escape Dispatch; every branch
// terminates in a [Result].
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/perivale/sonara/internal/apps"
	"github.com/perivale/sonara/internal/command"
	"github.com/perivale/sonara/internal/history"
	"github.com/perivale/sonara/internal/observe"
	appsprov "github.com/perivale/sonara/pkg/provider/apps"
	"github.com/perivale/sonara/pkg/provider/llm"
)

// Defaults applied when the corresponding option is not given.
const (
	// DefaultWakeWord is the standalone token that routes the remainder of an
	// utterance to the LLM.
	DefaultWakeWord = "sonara"

	// DefaultLLMTimeout bounds a single conversational completion.
	DefaultLLMTimeout = 20 * time.Second

	// DefaultPersona constrains conversational replies. Replies are spoken,
	// so the persona asks for short answers.
	DefaultPersona = "You are Sonara, a concise voice assistant. " +
		"Answer in at most two short sentences of plain spoken prose. " +
		"No markdown, no lists."

	// openAppSentinel is the literal directive prefix the catch-all prompt
	// asks the model to emit when the user wants an app opened.
	openAppSentinel = "OPEN_APP:"
)

// launchPattern captures the app name from explicit launch phrasing.
var launchPattern = regexp.MustCompile(`^(open|launch|start)\s+(.+)$`)

// Result is the terminal outcome of one Dispatch call. Message is suitable
// for display; when a reply was spoken, Message carries the same text.
type Result struct {
	Success bool
	Message string
}

// Voice is the speech output surface the dispatcher needs. Say blocks until
// the utterance has been played or ctx is cancelled.
type Voice interface {
	Say(ctx context.Context, text string) error
}

// Launcher is the application inventory surface the dispatcher needs.
// *appsprov.Cache satisfies it.
type Launcher interface {
	List(ctx context.Context) ([]appsprov.App, error)
	Launch(ctx context.Context, packageID string) error
}

// Dispatcher routes transcripts. Construct with [New]; safe for concurrent
// use once built, though the surrounding session model serialises calls.
type Dispatcher struct {
	registry *command.Registry
	resolver *apps.Resolver
	launcher Launcher
	voice    Voice

	llm     llm.Provider
	store   history.Store
	metrics *observe.Metrics
	logger  *slog.Logger

	// tunMu guards the hot-reloadable settings below.
	tunMu      sync.RWMutex
	wakeWord   string
	persona    string
	llmTimeout time.Duration
}

// Tunables are the Dispatcher settings that may change while the assistant is
// running. Zero fields fall back to the package defaults.
type Tunables struct {
	WakeWord   string
	Persona    string
	LLMTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLLM sets the conversational backend. Without one, wake-word and
// catch-all branches report failure instead of calling a model.
func WithLLM(p llm.Provider) Option {
	return func(d *Dispatcher) { d.llm = p }
}

// WithStore sets the history store. Append failures are logged, never fatal.
func WithStore(s history.Store) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithWakeWord overrides [DefaultWakeWord]. The word is normalised.
func WithWakeWord(w string) Option {
	return func(d *Dispatcher) { d.wakeWord = command.Normalize(w) }
}

// WithPersona overrides the system prompt used for conversational replies.
func WithPersona(p string) Option {
	return func(d *Dispatcher) { d.persona = p }
}

// WithLLMTimeout overrides [DefaultLLMTimeout].
func WithLLMTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.llmTimeout = t }
}

// WithMetrics enables dispatch instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher. registry, resolver, launcher, and voice are
// required; the rest default or stay disabled.
func New(registry *command.Registry, resolver *apps.Resolver, launcher Launcher, voice Voice, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		resolver:   resolver,
		launcher:   launcher,
		voice:      voice,
		logger:     slog.Default(),
		wakeWord:   DefaultWakeWord,
		persona:    DefaultPersona,
		llmTimeout: DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetTunables replaces the runtime-adjustable settings. In-flight dispatches
// keep the values they started with; the next Dispatch sees the new ones.
func (d *Dispatcher) SetTunables(t Tunables) {
	d.tunMu.Lock()
	defer d.tunMu.Unlock()

	d.wakeWord = DefaultWakeWord
	if t.WakeWord != "" {
		d.wakeWord = command.Normalize(t.WakeWord)
	}
	d.persona = DefaultPersona
	if t.Persona != "" {
		d.persona = t.Persona
	}
	d.llmTimeout = DefaultLLMTimeout
	if t.LLMTimeout > 0 {
		d.llmTimeout = t.LLMTimeout
	}
}

func (d *Dispatcher) tunables() Tunables {
	d.tunMu.RLock()
	defer d.tunMu.RUnlock()
	return Tunables{WakeWord: d.wakeWord, Persona: d.persona, LLMTimeout: d.llmTimeout}
}

// Dispatch routes one transcript through the decision tree. Branches are
// exclusive and tried in priority order:
//
//  1. Wake word as a standalone token: the remainder goes to the LLM.
//  2. "open|launch|start <name>": app resolution and launch.
//  3. Command registry resolution.
//  4. LLM catch-all with the OPEN_APP directive.
//
// Every branch writes at most one history entry and speaks at most one
// utterance. Collaborator errors are downgraded to a failed Result.
func (d *Dispatcher) Dispatch(ctx context.Context, transcript string) Result {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch")
	defer span.End()

	norm := command.Normalize(transcript)
	if norm == "" {
		return d.finish(ctx, start, "empty", Result{Success: false, Message: "nothing to do"})
	}

	tun := d.tunables()

	if remainder, ok := wakeRemainder(norm, tun.WakeWord); ok {
		return d.finish(ctx, start, "wake", d.converse(ctx, tun, remainder))
	}

	if m := launchPattern.FindStringSubmatch(norm); m != nil {
		return d.finish(ctx, start, "launch", d.openApp(ctx, m[2], true))
	}

	if cmd := d.registry.Resolve(norm); cmd != nil {
		return d.finish(ctx, start, "registry", d.runCommand(ctx, cmd, norm))
	}

	return d.finish(ctx, start, "llm", d.catchAll(ctx, tun, norm))
}

// finish records dispatch metrics and logs the outcome.
func (d *Dispatcher) finish(ctx context.Context, start time.Time, route string, res Result) Result {
	elapsed := time.Since(start)
	status := "ok"
	if !res.Success {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(ctx, elapsed.Seconds())
		d.metrics.RecordDispatch(ctx, route, status)
	}
	d.logger.LogAttrs(ctx, slog.LevelInfo, "dispatch complete",
		slog.String("route", route),
		slog.String("status", status),
		slog.Duration("duration", elapsed),
	)
	return res
}

// wakeRemainder reports whether norm contains wake as a standalone token and
// returns the text after its first occurrence.
func wakeRemainder(norm, wake string) (string, bool) {
	fields := strings.Fields(norm)
	for i, f := range fields {
		if f == wake {
			return strings.Join(fields[i+1:], " "), true
		}
	}
	return "", false
}

// converse handles the wake-word branch: remainder goes to the LLM with the
// persona prompt, the reply is spoken and recorded as a chat entry.
func (d *Dispatcher) converse(ctx context.Context, tun Tunables, prompt string) Result {
	if prompt == "" {
		return Result{Success: false, Message: fmt.Sprintf("please provide a question after %q", tun.WakeWord)}
	}

	reply, err := d.complete(ctx, tun, tun.Persona, prompt)
	if err != nil {
		d.logger.Warn("conversational completion failed", "error", err)
		return Result{Success: false, Message: "I could not answer that right now."}
	}

	d.say(ctx, reply)
	d.record(ctx, history.KindChat, prompt, reply)
	return Result{Success: true, Message: reply}
}

// openApp resolves name and launches it. When ack is set, an acknowledgement
// is spoken before the launch attempt so a launch failure never produces a
// second utterance.
func (d *Dispatcher) openApp(ctx context.Context, name string, ack bool) Result {
	installed, err := d.launcher.List(ctx)
	if err != nil {
		d.logger.Warn("app inventory unavailable", "error", err)
		installed = nil
	}

	match := d.resolver.Resolve(name, installed)
	if match == nil {
		msg := d.missMessage(name, installed)
		d.say(ctx, msg)
		return Result{Success: false, Message: msg}
	}

	if ack {
		d.say(ctx, "Opening "+match.Name)
	}
	if err := d.launcher.Launch(ctx, match.PackageID); err != nil {
		d.logger.Warn("launch failed",
			"package", match.PackageID,
			"reason", appsprov.ReasonOf(err),
			"error", err,
		)
		return Result{Success: false, Message: fmt.Sprintf("could not open %s", match.Name)}
	}

	d.record(ctx, history.KindCommand, "open "+match.Name, "")
	return Result{Success: true, Message: "Opening " + match.Name}
}

// missMessage builds the "did you mean" text for a resolution miss.
func (d *Dispatcher) missMessage(name string, installed []appsprov.App) string {
	suggestions := d.resolver.Suggest(name, installed)
	if len(suggestions) == 0 {
		return fmt.Sprintf("I could not find an app called %s.", name)
	}
	return fmt.Sprintf("I could not find %s. Did you mean %s?",
		name, strings.Join(suggestions, ", "))
}

// runCommand executes a registry hit and records it.
func (d *Dispatcher) runCommand(ctx context.Context, cmd *command.Command, text string) Result {
	if cmd.Action != nil {
		if err := cmd.Action(ctx, text); err != nil {
			d.logger.Warn("command action failed", "phrase", cmd.Phrase, "error", err)
			return Result{Success: false, Message: fmt.Sprintf("%s failed", cmd.Phrase)}
		}
	}
	d.record(ctx, history.KindCommand, cmd.Phrase, "")
	return Result{Success: true, Message: cmd.Phrase}
}

// catchAll sends the transcript to the LLM with the OPEN_APP directive. A
// sentinel reply routes back into app resolution; free text is spoken and
// recorded.
func (d *Dispatcher) catchAll(ctx context.Context, tun Tunables, norm string) Result {
	system := tun.Persona + "\n" +
		"If, and only if, the user is asking to open or launch an application, " +
		"reply with exactly \"" + openAppSentinel + " <app name>\" and nothing else. " +
		"Otherwise answer the question directly."

	reply, err := d.complete(ctx, tun, system, norm)
	if err != nil {
		d.logger.Warn("catch-all completion failed", "error", err)
		return Result{Success: false, Message: "command not recognized"}
	}

	if name, ok := strings.CutPrefix(strings.TrimSpace(reply), openAppSentinel); ok {
		return d.openApp(ctx, strings.TrimSpace(name), true)
	}

	d.say(ctx, reply)
	d.record(ctx, history.KindChat, norm, reply)
	return Result{Success: true, Message: reply}
}

// complete runs one time-bounded LLM completion.
func (d *Dispatcher) complete(ctx context.Context, tun Tunables, system, prompt string) (string, error) {
	if d.llm == nil {
		return "", errors.New("dispatch: no llm provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, tun.LLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
	})
	if d.metrics != nil {
		d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordProviderRequest(ctx, d.llm.Name(), "llm", status)
		if err != nil {
			d.metrics.RecordProviderError(ctx, d.llm.Name(), "llm")
		}
	}
	if err != nil {
		return "", fmt.Errorf("dispatch: complete: %w", err)
	}
	if resp == nil {
		return "", errors.New("dispatch: empty completion")
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", errors.New("dispatch: empty completion")
	}
	return content, nil
}

// say speaks text, logging failures instead of surfacing them.
func (d *Dispatcher) say(ctx context.Context, text string) {
	if d.voice == nil || text == "" {
		return
	}
	if err := d.voice.Say(ctx, text); err != nil {
		d.logger.Warn("speech output failed", "error", err)
	}
}

// record appends a history entry, logging failures instead of surfacing them.
func (d *Dispatcher) record(ctx context.Context, kind history.Kind, text, response string) {
	if d.store == nil {
		return
	}
	if _, err := d.store.Append(ctx, history.Entry{Kind: kind, Text: text, Response: response}); err != nil {
		d.logger.Warn("history append failed", "error", err)
	}
}
