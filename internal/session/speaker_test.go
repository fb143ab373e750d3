package session

import (
	"context"
	"errors"
	"testing"
	"time"

	audiomock "github.com/perivale/sonara/pkg/audio/mock"
	"github.com/perivale/sonara/pkg/provider/tts"
	ttsmock "github.com/perivale/sonara/pkg/provider/tts/mock"
)

func TestSaySynthesizesAndPlays(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Provider{Audio: []byte{1, 2, 3, 4}}
	player := &audiomock.Player{}
	s := NewSpeaker(synth, player)

	if err := s.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	calls := synth.Calls()
	if len(calls) != 1 || calls[0].Text != "hello" {
		t.Fatalf("synthesize calls = %+v, want one for %q", calls, "hello")
	}
	if len(player.Played) != 1 || len(player.Played[0]) != 4 {
		t.Fatalf("played = %v, want the synthesised audio", player.Played)
	}
	if s.Speaking() {
		t.Error("Speaking should be false after Say returns")
	}
}

func TestSayEmptyTextIsNoop(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Provider{}
	s := NewSpeaker(synth, &audiomock.Player{})

	if err := s.Say(context.Background(), ""); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(synth.Calls()) != 0 {
		t.Error("empty text must not reach the synthesiser")
	}
}

func TestSayStopsPreviousUtteranceFirst(t *testing.T) {
	t.Parallel()
	player := &audiomock.Player{}
	s := NewSpeaker(&ttsmock.Provider{Audio: []byte{1}}, player)

	if err := s.Say(context.Background(), "first"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if player.Stops == 0 {
		t.Error("Say must stop any current playback before starting")
	}
}

func TestSpeakingFlagCoversPlayback(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	player := &audiomock.Player{Block: block}
	s := NewSpeaker(&ttsmock.Provider{Audio: []byte{1}}, player)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Say(context.Background(), "long reply") }()

	waitFor(t, time.Second, s.Speaking)
	close(block)
	if err := <-errCh; err != nil {
		t.Fatalf("Say: %v", err)
	}
	if s.Speaking() {
		t.Error("Speaking should clear once playback completes")
	}
}

func TestSayBoundedByTimeout(t *testing.T) {
	t.Parallel()
	// Playback never completes; the speak timeout must cut it off.
	player := &audiomock.Player{Block: make(chan struct{})}
	s := NewSpeaker(&ttsmock.Provider{Audio: []byte{1}}, player,
		WithSpeakTimeout(30*time.Millisecond))

	err := s.Say(context.Background(), "stuck")
	if err == nil {
		t.Fatal("Say should fail when playback never completes")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if s.Speaking() {
		t.Error("Speaking should clear after the timeout")
	}
}

func TestSaySynthesisFailure(t *testing.T) {
	t.Parallel()
	player := &audiomock.Player{}
	s := NewSpeaker(&ttsmock.Provider{SynthesizeErr: errors.New("backend down")}, player)

	if err := s.Say(context.Background(), "hello"); err == nil {
		t.Fatal("Say should surface synthesis failure")
	}
	if len(player.Played) != 0 {
		t.Error("nothing should be played when synthesis fails")
	}
}

func TestWaitReturnsImmediatelyWhenQuiet(t *testing.T) {
	t.Parallel()
	s := NewSpeaker(&ttsmock.Provider{}, &audiomock.Player{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitBlocksUntilPlaybackEnds(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	player := &audiomock.Player{Block: block}
	s := NewSpeaker(&ttsmock.Provider{Audio: []byte{1}}, player)

	go func() { _ = s.Say(context.Background(), "talking") }()
	waitFor(t, time.Second, s.Speaking)

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while playback was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// waitFor polls cond until it is true or the deadline elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSetVoiceAppliesToNextUtterance(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Provider{Audio: []byte{1}}
	s := NewSpeaker(synth, &audiomock.Player{},
		WithVoice(tts.VoiceProfile{ID: "p225"}))

	if err := s.Say(context.Background(), "before"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	s.SetVoice(tts.VoiceProfile{ID: "p300"})
	if err := s.Say(context.Background(), "after"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	calls := synth.Calls()
	if len(calls) != 2 {
		t.Fatalf("synthesize calls = %d, want 2", len(calls))
	}
	if calls[0].Voice.ID != "p225" || calls[1].Voice.ID != "p300" {
		t.Errorf("voices = %q, %q; want p225 then p300", calls[0].Voice.ID, calls[1].Voice.ID)
	}
}
