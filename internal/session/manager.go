package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/perivale/sonara/internal/dispatch"
	"github.com/perivale/sonara/internal/observe"
	"github.com/perivale/sonara/pkg/audio"
	"github.com/perivale/sonara/pkg/provider/stt"
)

// Tunable defaults. All are configurable through options; the capture
// thresholds in particular are heuristics, not law.
const (
	// DefaultUtteranceTimeout ends a capture chunk after this much silence
	// budget. Shorter than the max-chunk timer.
	DefaultUtteranceTimeout = 4 * time.Second

	// DefaultMaxChunkDuration force-ends a chunk regardless of anything else.
	DefaultMaxChunkDuration = 12 * time.Second

	// DefaultRestartDelay is the pause between one chunk finishing and the
	// next one starting.
	DefaultRestartDelay = 300 * time.Millisecond

	// DefaultMinChunkBytes is the silence heuristic: captures smaller than
	// this never reach the transcriber.
	DefaultMinChunkBytes = 2000

	// DefaultMinConfidence is the transcript acceptance floor. Low-confidence
	// transcripts still pass when long enough, see DefaultMinWords.
	DefaultMinConfidence = 0.6

	// DefaultMinWords exempts longer utterances from the confidence floor.
	DefaultMinWords = 3

	// DefaultSpeechWait bounds how long a chunk start waits for in-flight
	// playback to finish.
	DefaultSpeechWait = 30 * time.Second
)

// State is the listening lifecycle phase.
type State int32

const (
	// StateIdle means no session is active.
	StateIdle State = iota

	// StateAcquiring means microphone permission and audio setup are in
	// progress.
	StateAcquiring

	// StateListening means chunked capture is active.
	StateListening

	// StateProcessing means one chunk is being transcribed and dispatched.
	StateProcessing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer receives session lifecycle notifications. All methods are called
// from the session goroutine; implementations must not block.
type Observer interface {
	// Status delivers a human-readable progress message.
	Status(text string)

	// ListeningChanged fires when a session starts or stops.
	ListeningChanged(active bool)

	// ProcessingChanged fires when chunk processing starts or ends.
	ProcessingChanged(active bool)
}

type noopObserver struct{}

func (noopObserver) Status(string)          {}
func (noopObserver) ListeningChanged(bool)  {}
func (noopObserver) ProcessingChanged(bool) {}

// Dispatcher routes one transcript. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, transcript string) dispatch.Result
}

// Voice is the speech surface the manager coordinates capture against.
// *Speaker satisfies it.
type Voice interface {
	Say(ctx context.Context, text string) error
	Speaking() bool
	Wait(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager owns the listen/record/transcribe/dispatch loop. Exactly one
// session may be active at a time; Start while active is a no-op. All mutable
// session state lives here, guarded by mu.
type Manager struct {
	recorder   audio.Recorder
	stt        stt.Provider
	dispatcher Dispatcher
	voice      Voice
	observer   Observer
	metrics    *observe.Metrics
	logger     *slog.Logger

	// tunMu guards the hot-reloadable capture settings below.
	tunMu            sync.RWMutex
	utteranceTimeout time.Duration
	maxChunk         time.Duration
	restartDelay     time.Duration
	minChunkBytes    int
	minConfidence    float64
	minWords         int
	speechWait       time.Duration

	mu        sync.Mutex
	state     State
	preparing bool
	rec       audio.Recording
	cancel    context.CancelFunc
	done      chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithUtteranceTimeout overrides [DefaultUtteranceTimeout].
func WithUtteranceTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.utteranceTimeout = d }
}

// WithMaxChunkDuration overrides [DefaultMaxChunkDuration].
func WithMaxChunkDuration(d time.Duration) ManagerOption {
	return func(m *Manager) { m.maxChunk = d }
}

// WithRestartDelay overrides [DefaultRestartDelay].
func WithRestartDelay(d time.Duration) ManagerOption {
	return func(m *Manager) { m.restartDelay = d }
}

// WithMinChunkBytes overrides [DefaultMinChunkBytes].
func WithMinChunkBytes(n int) ManagerOption {
	return func(m *Manager) { m.minChunkBytes = n }
}

// WithAcceptance overrides the transcript acceptance thresholds.
func WithAcceptance(minConfidence float64, minWords int) ManagerOption {
	return func(m *Manager) {
		m.minConfidence = minConfidence
		m.minWords = minWords
	}
}

// WithManagerMetrics enables session instrumentation.
func WithManagerMetrics(mx *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// WithManagerLogger overrides the default slog logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager in the Idle state.
func NewManager(recorder audio.Recorder, sttProvider stt.Provider, d Dispatcher, voice Voice, opts ...ManagerOption) *Manager {
	m := &Manager{
		recorder:         recorder,
		stt:              sttProvider,
		dispatcher:       d,
		voice:            voice,
		observer:         noopObserver{},
		logger:           slog.Default(),
		utteranceTimeout: DefaultUtteranceTimeout,
		maxChunk:         DefaultMaxChunkDuration,
		restartDelay:     DefaultRestartDelay,
		minChunkBytes:    DefaultMinChunkBytes,
		minConfidence:    DefaultMinConfidence,
		minWords:         DefaultMinWords,
		speechWait:       DefaultSpeechWait,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tunables are the capture and acceptance settings that may change while the
// manager is running. Zero fields fall back to the package defaults.
type Tunables struct {
	UtteranceTimeout time.Duration
	MaxChunkDuration time.Duration
	RestartDelay     time.Duration
	MinChunkBytes    int
	MinConfidence    float64
	MinWords         int
}

// SetTunables replaces the capture settings. A running loop picks the new
// values up at the next chunk boundary.
func (m *Manager) SetTunables(t Tunables) {
	m.tunMu.Lock()
	defer m.tunMu.Unlock()

	m.utteranceTimeout = DefaultUtteranceTimeout
	if t.UtteranceTimeout > 0 {
		m.utteranceTimeout = t.UtteranceTimeout
	}
	m.maxChunk = DefaultMaxChunkDuration
	if t.MaxChunkDuration > 0 {
		m.maxChunk = t.MaxChunkDuration
	}
	m.restartDelay = DefaultRestartDelay
	if t.RestartDelay > 0 {
		m.restartDelay = t.RestartDelay
	}
	m.minChunkBytes = DefaultMinChunkBytes
	if t.MinChunkBytes > 0 {
		m.minChunkBytes = t.MinChunkBytes
	}
	m.minConfidence = DefaultMinConfidence
	if t.MinConfidence > 0 {
		m.minConfidence = t.MinConfidence
	}
	m.minWords = DefaultMinWords
	if t.MinWords > 0 {
		m.minWords = t.MinWords
	}
}

func (m *Manager) tunables() Tunables {
	m.tunMu.RLock()
	defer m.tunMu.RUnlock()
	return Tunables{
		UtteranceTimeout: m.utteranceTimeout,
		MaxChunkDuration: m.maxChunk,
		RestartDelay:     m.restartDelay,
		MinChunkBytes:    m.minChunkBytes,
		MinConfidence:    m.minConfidence,
		MinWords:         m.minWords,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins a listening session. It is a no-op when a session is already
// active, so a double Start performs only one permission request and yields
// only one capture loop. Permission denial is terminal: the manager speaks an
// explanation, returns to Idle, and reports an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = StateAcquiring
	m.mu.Unlock()

	m.observer.Status("starting listening session")

	// The first recording attempt doubles as the microphone permission probe.
	probe, err := m.recorder.StartRecording(ctx)
	if err != nil {
		m.setState(StateIdle)
		if errors.Is(err, audio.ErrPermissionDenied) {
			m.say(ctx, "I need microphone access to listen. Please grant the permission and try again.")
			m.observer.Status("microphone permission denied")
			return fmt.Errorf("session: start: %w", err)
		}
		m.observer.Status("audio setup failed")
		return fmt.Errorf("session: start: %w", err)
	}
	if err := probe.Cancel(); err != nil {
		m.logger.Warn("discarding permission probe failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.mu.Lock()
	if m.state != StateAcquiring {
		// A Stop raced the permission probe and already reported the session
		// as ended. The probe result is discarded and no loop starts.
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancel = cancel
	m.done = done
	m.state = StateListening
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ListeningSessions.Add(ctx, 1)
	}
	m.observer.ListeningChanged(true)
	m.say(ctx, "I'm listening.")

	go m.run(runCtx, done)
	return nil
}

// Stop ends the session. Idempotent; cancels timers, discards any in-flight
// recording, waits for the capture loop to quiesce, and speaks a
// confirmation. Resource handles are cleared even when the underlying stop
// calls fail.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	rec := m.rec
	done := m.done
	m.cancel = nil
	m.rec = nil
	m.done = nil
	m.preparing = false
	m.state = StateIdle
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if rec != nil {
		if err := rec.Cancel(); err != nil {
			m.logger.Warn("discarding in-flight recording failed", "error", err)
		}
	}
	// A nil done means Stop landed during acquisition: there is no loop to
	// drain, and the gauge and activation event were never raised.
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
		if m.metrics != nil {
			m.metrics.ListeningSessions.Add(ctx, -1)
		}
		m.observer.ListeningChanged(false)
	}
	// The builtin stop command arrives on the run context this call just
	// cancelled; the confirmation must still be spoken. The speaker bounds
	// the utterance with its own timeout.
	m.say(context.WithoutCancel(ctx), "Stopped listening.")
	m.observer.Status("stopped")
	return nil
}

// run is the capture loop. Each iteration waits out any in-flight playback,
// records one chunk, and hands it through transcription to dispatch. The loop
// exits only on context cancellation; chunk-level failures are absorbed and
// the loop re-arms.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, m.speechWait)
		err := m.voice.Wait(waitCtx)
		cancel()
		if err != nil && ctx.Err() != nil {
			return
		}

		m.runChunk(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.tunables().RestartDelay):
		}
	}
}

// runChunk records and processes a single chunk. The preparing flag prevents
// overlapping chunk starts; any stale recording is discarded first.
func (m *Manager) runChunk(ctx context.Context) {
	m.mu.Lock()
	if m.preparing || m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.preparing = true
	stale := m.rec
	m.rec = nil
	m.mu.Unlock()

	if stale != nil {
		if err := stale.Cancel(); err != nil {
			m.logger.Warn("discarding stale recording failed", "error", err)
		}
	}

	rec, err := m.recorder.StartRecording(ctx)
	if err != nil {
		m.clearPreparing()
		m.logger.Warn("chunk recording start failed", "error", err)
		m.observer.Status("recording failed")
		return
	}

	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		_ = rec.Cancel()
		return
	}
	m.rec = rec
	m.preparing = false
	m.mu.Unlock()

	tun := m.tunables()
	chunkStart := time.Now()
	utterance := time.NewTimer(tun.UtteranceTimeout)
	maxChunk := time.NewTimer(tun.MaxChunkDuration)
	defer utterance.Stop()
	defer maxChunk.Stop()

	select {
	case <-ctx.Done():
		// Stop already discarded the recording.
		return
	case <-utterance.C:
	case <-maxChunk.C:
	}

	m.mu.Lock()
	rec = m.rec
	m.rec = nil
	m.mu.Unlock()
	if rec == nil {
		return
	}

	pcm, err := rec.Stop()
	if m.metrics != nil {
		m.metrics.ChunkDuration.Record(ctx, time.Since(chunkStart).Seconds())
	}
	if err != nil {
		m.logger.Warn("reading chunk audio failed", "error", err)
		m.observer.Status("recording failed")
		return
	}
	if len(pcm) < tun.MinChunkBytes {
		m.reject(ctx, "silence")
		return
	}

	m.process(ctx, pcm)
}

// process transcribes one chunk and dispatches the accepted transcript.
func (m *Manager) process(ctx context.Context, pcm []byte) {
	m.setProcessing(true)
	defer m.setProcessing(false)

	start := time.Now()
	transcript, err := m.stt.Transcribe(ctx, pcm)
	if m.metrics != nil {
		m.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordProviderRequest(ctx, m.stt.Name(), "stt", status)
	}
	if err != nil {
		m.logger.Warn("transcription failed", "error", err)
		m.observer.Status("transcription failed")
		return
	}
	if transcript == nil || strings.TrimSpace(transcript.Text) == "" {
		m.reject(ctx, "empty")
		return
	}
	if !m.accept(transcript) {
		m.reject(ctx, "low_confidence")
		return
	}

	res := m.dispatcher.Dispatch(ctx, transcript.Text)
	if res.Message != "" {
		m.observer.Status(res.Message)
	}
}

// accept applies the confidence policy: a transcript passes when its
// confidence meets the floor, or when it is long enough to be exempt. Short
// low-confidence fragments are discarded as noise.
func (m *Manager) accept(t *stt.Transcript) bool {
	tun := m.tunables()
	if t.Confidence >= tun.MinConfidence {
		return true
	}
	return len(strings.Fields(t.Text)) >= tun.MinWords
}

func (m *Manager) reject(ctx context.Context, reason string) {
	if m.metrics != nil {
		m.metrics.RecordRejection(ctx, reason)
	}
	m.observer.Status("no command detected")
}

func (m *Manager) setProcessing(active bool) {
	m.mu.Lock()
	if active && m.state == StateListening {
		m.state = StateProcessing
	} else if !active && m.state == StateProcessing {
		m.state = StateListening
	}
	m.mu.Unlock()
	m.observer.ProcessingChanged(active)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) clearPreparing() {
	m.mu.Lock()
	m.preparing = false
	m.mu.Unlock()
}

// say speaks through the coordinator, logging failures instead of surfacing
// them.
func (m *Manager) say(ctx context.Context, text string) {
	if m.voice == nil {
		return
	}
	if err := m.voice.Say(ctx, text); err != nil {
		m.logger.Warn("speech output failed", "error", err)
	}
}
