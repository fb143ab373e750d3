package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/perivale/sonara/internal/dispatch"
	"github.com/perivale/sonara/pkg/audio"
	audiomock "github.com/perivale/sonara/pkg/audio/mock"
	"github.com/perivale/sonara/pkg/provider/stt"
	sttmock "github.com/perivale/sonara/pkg/provider/stt/mock"
)

// fakeVoice satisfies Voice without real playback.
type fakeVoice struct {
	mu   sync.Mutex
	said []string
}

// Say fails on a cancelled context, as real synthesis would.
func (v *fakeVoice) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.said = append(v.said, text)
	return nil
}

func (v *fakeVoice) Speaking() bool             { return false }
func (v *fakeVoice) Wait(context.Context) error { return nil }
func (v *fakeVoice) Stop(context.Context) error { return nil }

func (v *fakeVoice) Said() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.said))
	copy(out, v.said)
	return out
}

// fakeDispatcher records dispatched transcripts.
type fakeDispatcher struct {
	mu          sync.Mutex
	transcripts []string
	result      dispatch.Result
}

func (d *fakeDispatcher) Dispatch(_ context.Context, transcript string) dispatch.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transcripts = append(d.transcripts, transcript)
	return d.result
}

func (d *fakeDispatcher) Transcripts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.transcripts))
	copy(out, d.transcripts)
	return out
}

// eventRecorder captures observer notifications.
type eventRecorder struct {
	mu        sync.Mutex
	statuses  []string
	listening []bool
}

func (r *eventRecorder) Status(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *eventRecorder) ListeningChanged(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = append(r.listening, active)
}

func (r *eventRecorder) ProcessingChanged(bool) {}

func (r *eventRecorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *eventRecorder) ListeningEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.listening))
	copy(out, r.listening)
	return out
}

func (r *eventRecorder) sawStatus(want string) bool {
	for _, s := range r.Statuses() {
		if s == want {
			return true
		}
	}
	return false
}

type managerFixture struct {
	m        *Manager
	recorder *audiomock.Recorder
	stt      *sttmock.Provider
	disp     *fakeDispatcher
	voice    *fakeVoice
	events   *eventRecorder
}

func newManagerFixture(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	f := &managerFixture{
		recorder: &audiomock.Recorder{PCM: make([]byte, 4000)},
		stt:      &sttmock.Provider{},
		disp:     &fakeDispatcher{result: dispatch.Result{Success: true, Message: "done"}},
		voice:    &fakeVoice{},
		events:   &eventRecorder{},
	}
	base := []ManagerOption{
		WithObserver(f.events),
		WithUtteranceTimeout(15 * time.Millisecond),
		WithMaxChunkDuration(200 * time.Millisecond),
		WithRestartDelay(5 * time.Millisecond),
	}
	f.m = NewManager(f.recorder, f.stt, f.disp, f.voice, append(base, opts...)...)
	t.Cleanup(func() { _ = f.m.Stop(context.Background()) })
	return f
}

func TestStartTwiceIsOneSession(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if got := f.events.ListeningEvents(); len(got) != 1 || !got[0] {
		t.Errorf("listening events = %v, want one activation", got)
	}
	if st := f.m.State(); st == StateIdle {
		t.Error("manager should be active after Start")
	}
}

func TestPermissionDenialIsTerminal(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.recorder.StartErr = audio.ErrPermissionDenied

	err := f.m.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denial", err)
	}
	if st := f.m.State(); st != StateIdle {
		t.Errorf("state = %v, want idle after denial", st)
	}
	if said := f.voice.Said(); len(said) != 1 {
		t.Errorf("spoken = %v, want one explanation", said)
	}
	if got := f.events.ListeningEvents(); len(got) != 0 {
		t.Errorf("listening events = %v, want none", got)
	}
}

func TestSilentChunkNeverReachesTranscriber(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.recorder.PCM = make([]byte, 1500)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return f.events.sawStatus("no command detected") })
	if got := f.stt.Calls(); got != 0 {
		t.Errorf("transcriber calls = %d, want 0 for sub-threshold audio", got)
	}
}

func TestChunkIsTranscribedAndDispatched(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.stt.Transcripts = []*stt.Transcript{{Text: "open spotify", Confidence: 0.95}}

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(f.disp.Transcripts()) > 0 })
	if got := f.disp.Transcripts()[0]; got != "open spotify" {
		t.Errorf("dispatched = %q, want the transcript", got)
	}
}

func TestShortLowConfidenceTranscriptRejected(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.stt.Transcripts = []*stt.Transcript{{Text: "um", Confidence: 0.1}}

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return f.stt.Calls() > 0 && f.events.sawStatus("no command detected") })
	if got := f.disp.Transcripts(); len(got) != 0 {
		t.Errorf("dispatched = %v, want nothing for noise", got)
	}
}

func TestLongLowConfidenceTranscriptAccepted(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.stt.Transcripts = []*stt.Transcript{{Text: "what is the weather today", Confidence: 0.1}}

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(f.disp.Transcripts()) > 0 })
}

func TestTranscriptionFailureKeepsListening(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	f.stt.TranscribeErr = errors.New("recognizer offline")

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The auto-restart invariant: multiple chunks keep flowing after a
	// transcription failure.
	waitFor(t, 2*time.Second, func() bool { return f.stt.Calls() >= 2 })
	if st := f.m.State(); st == StateIdle {
		t.Error("session should still be active after a recoverable failure")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop without session: %v", err)
	}
	if said := f.voice.Said(); len(said) != 0 {
		t.Errorf("spoken = %v, want nothing for a no-op stop", said)
	}

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if st := f.m.State(); st != StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
}

func TestStopDiscardsInFlightRecording(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t, WithUtteranceTimeout(10*time.Second), WithMaxChunkDuration(20*time.Second))

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Wait for the chunk recording to be in flight (probe + chunk).
	waitFor(t, 2*time.Second, func() bool { return f.recorder.Starts() >= 2 })

	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	recs := f.recorder.Recordings
	last := recs[len(recs)-1]
	if !last.Cancelled() && !last.Stopped() {
		t.Error("in-flight recording leaked past Stop")
	}
	if st := f.m.State(); st != StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
}

func TestStopSpeaksConfirmation(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	said := f.voice.Said()
	if len(said) < 2 {
		t.Fatalf("spoken = %v, want start and stop confirmations", said)
	}
	if got := f.events.ListeningEvents(); len(got) != 2 || got[1] {
		t.Errorf("listening events = %v, want activation then deactivation", got)
	}
}

func TestSetTunablesChangesAcceptance(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	// SetTunables resets omitted fields to their defaults, so the fixture's
	// fast timers are restated alongside the lowered acceptance floor.
	f.m.SetTunables(Tunables{
		UtteranceTimeout: 15 * time.Millisecond,
		MaxChunkDuration: 200 * time.Millisecond,
		RestartDelay:     5 * time.Millisecond,
		MinConfidence:    0.05,
		MinWords:         1,
	})
	f.stt.Transcripts = []*stt.Transcript{{Text: "um", Confidence: 0.1}}

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The same short low-confidence fragment that the defaults reject now
	// clears the lowered floor.
	waitFor(t, 2*time.Second, func() bool { return len(f.disp.Transcripts()) > 0 })
}

func TestSetTunablesZeroFieldsRestoreDefaults(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	f.m.SetTunables(Tunables{})

	tun := f.m.tunables()
	if tun.UtteranceTimeout != DefaultUtteranceTimeout {
		t.Errorf("utterance timeout = %v, want %v", tun.UtteranceTimeout, DefaultUtteranceTimeout)
	}
	if tun.MaxChunkDuration != DefaultMaxChunkDuration {
		t.Errorf("max chunk = %v, want %v", tun.MaxChunkDuration, DefaultMaxChunkDuration)
	}
	if tun.RestartDelay != DefaultRestartDelay {
		t.Errorf("restart delay = %v, want %v", tun.RestartDelay, DefaultRestartDelay)
	}
	if tun.MinChunkBytes != DefaultMinChunkBytes {
		t.Errorf("min chunk bytes = %d, want %d", tun.MinChunkBytes, DefaultMinChunkBytes)
	}
	if tun.MinConfidence != DefaultMinConfidence {
		t.Errorf("min confidence = %v, want %v", tun.MinConfidence, DefaultMinConfidence)
	}
	if tun.MinWords != DefaultMinWords {
		t.Errorf("min words = %d, want %d", tun.MinWords, DefaultMinWords)
	}
}

func TestStopDuringAcquisitionSticks(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)
	block := make(chan struct{})
	f.recorder.Block = block

	startErr := make(chan error, 1)
	go func() { startErr <- f.m.Start(context.Background()) }()
	waitFor(t, 2*time.Second, func() bool { return f.m.State() == StateAcquiring })

	// Stop lands while Start is blocked in the permission probe.
	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(block)
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}

	if st := f.m.State(); st != StateIdle {
		t.Fatalf("state = %v, want idle to stick after Stop", st)
	}
	if got := f.events.ListeningEvents(); len(got) != 0 {
		t.Errorf("listening events = %v, want none for a session that never ran", got)
	}
	for _, s := range f.voice.Said() {
		if s == "I'm listening." {
			t.Error("start announcement spoken after Stop")
		}
	}
	if got := f.recorder.Starts(); got != 1 {
		t.Errorf("recorder starts = %d, want only the discarded probe", got)
	}
}

func TestStopConfirmationSurvivesCancelledContext(t *testing.T) {
	t.Parallel()
	f := newManagerFixture(t)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The builtin stop command hands Stop the run context, which Stop itself
	// cancels; the confirmation has to outlive it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	said := f.voice.Said()
	if len(said) == 0 || said[len(said)-1] != "Stopped listening." {
		t.Errorf("spoken = %v, want the stop confirmation last", said)
	}
}
