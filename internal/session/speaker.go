// Package session owns the listening lifecycle: microphone acquisition,
// chunked capture, transcription hand-off, dispatch, and the mutual
// exclusion between recording and speech playback.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perivale/sonara/internal/observe"
	"github.com/perivale/sonara/pkg/audio"
	"github.com/perivale/sonara/pkg/provider/tts"
)

// DefaultSpeakTimeout bounds one synthesis-plus-playback cycle so a stalled
// backend can never wedge the session.
const DefaultSpeakTimeout = 30 * time.Second

// speakPollInterval is how often Wait re-checks the speaking flag. Wait is a
// safety net; Say returning is the primary completion signal.
const speakPollInterval = 50 * time.Millisecond

// Speaker serialises text-to-speech output against the recording state. While
// an utterance is being synthesised or played, Speaking reports true and the
// session manager will not start a capture chunk.
type Speaker struct {
	tts     tts.Provider
	player  audio.Player
	voice   tts.VoiceProfile
	timeout time.Duration
	metrics *observe.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	speaking int
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithVoice selects the voice profile passed to the synthesiser.
func WithVoice(v tts.VoiceProfile) SpeakerOption {
	return func(s *Speaker) { s.voice = v }
}

// WithSpeakTimeout overrides [DefaultSpeakTimeout].
func WithSpeakTimeout(t time.Duration) SpeakerOption {
	return func(s *Speaker) { s.timeout = t }
}

// WithSpeakerMetrics enables TTS latency instrumentation.
func WithSpeakerMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// WithSpeakerLogger overrides the default slog logger.
func WithSpeakerLogger(l *slog.Logger) SpeakerOption {
	return func(s *Speaker) { s.logger = l }
}

// NewSpeaker creates a Speaker over the given synthesiser and player.
func NewSpeaker(p tts.Provider, player audio.Player, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		tts:     p,
		player:  player,
		timeout: DefaultSpeakTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Say synthesises text and blocks until playback has finished, the bounded
// timeout elapses, or ctx is cancelled. Any utterance already playing is
// stopped first. The speaking flag is raised for the whole call, covering the
// synthesis gap before audio reaches the device.
func (s *Speaker) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	s.setSpeaking(1)
	defer s.setSpeaking(-1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.player.Stop(ctx); err != nil {
		s.logger.Warn("stopping previous utterance failed", "error", err)
	}

	start := time.Now()
	pcm, err := s.tts.Synthesize(ctx, text, s.voiceProfile())
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "tts", "tts")
		}
		return fmt.Errorf("session: synthesize: %w", err)
	}

	err = s.player.Play(ctx, pcm)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("session: play: %w", err)
	}
	return nil
}

// Stop aborts any in-progress playback. Idempotent.
func (s *Speaker) Stop(ctx context.Context) error {
	if err := s.player.Stop(ctx); err != nil {
		return fmt.Errorf("session: stop playback: %w", err)
	}
	return nil
}

// Speaking reports whether an utterance is being synthesised or played.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking > 0 || s.player.Playing()
}

// Wait blocks until Speaking reports false or ctx is cancelled. Callers that
// invoked Say directly do not need it; it guards against playback started by
// a concurrent caller.
func (s *Speaker) Wait(ctx context.Context) error {
	if !s.Speaking() {
		return nil
	}
	ticker := time.NewTicker(speakPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.Speaking() {
				return nil
			}
		}
	}
}

func (s *Speaker) setSpeaking(delta int) {
	s.mu.Lock()
	s.speaking += delta
	s.mu.Unlock()
}

// SetVoice replaces the voice profile used for subsequent utterances. An
// utterance already being synthesised keeps the profile it started with.
func (s *Speaker) SetVoice(v tts.VoiceProfile) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
}

func (s *Speaker) voiceProfile() tts.VoiceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}
