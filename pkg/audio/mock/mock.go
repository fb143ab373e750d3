// Package mock provides test doubles for the audio.Recorder and audio.Player
// interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/perivale/sonara/pkg/audio"
)

// Recording is the capture handle returned by Recorder.StartRecording.
type Recording struct {
	mu        sync.Mutex
	pcm       []byte
	stopErr   error
	stopped   bool
	cancelled bool
}

// Stopped reports whether Stop has been called.
func (r *Recording) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Cancelled reports whether Cancel has been called.
func (r *Recording) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Stop implements audio.Recording.
func (r *Recording) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.pcm, r.stopErr
}

// Cancel implements audio.Recording.
func (r *Recording) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.cancelled = true
	return nil
}

// Recorder is a mock implementation of audio.Recorder. Each StartRecording
// call hands out a Recording that yields PCM (or StopErr) when stopped.
type Recorder struct {
	mu sync.Mutex

	// PCM is the audio returned by each Recording's Stop.
	PCM []byte

	// StartErr, if non-nil, is returned from StartRecording.
	StartErr error

	// StopErr, if non-nil, is returned from each Recording's Stop.
	StopErr error

	// Block, if non-nil, makes StartRecording wait until the channel is
	// closed (or ctx is cancelled) before returning, simulating a slow
	// permission prompt.
	Block chan struct{}

	// Recordings holds every handle given out, in order.
	Recordings []*Recording
}

// Compile-time interface check.
var _ audio.Recorder = (*Recorder)(nil)

// StartRecording implements audio.Recorder.
func (r *Recorder) StartRecording(ctx context.Context) (audio.Recording, error) {
	r.mu.Lock()
	block := r.Block
	r.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	rec := &Recording{pcm: r.PCM, stopErr: r.StopErr}
	r.Recordings = append(r.Recordings, rec)
	return rec, nil
}

// Starts returns the number of StartRecording calls that succeeded.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Recordings)
}

// Player is a mock implementation of audio.Player.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned from Play.
	PlayErr error

	// Block, if non-nil, makes Play wait until the channel is closed (or ctx
	// is cancelled) before returning, simulating long playback.
	Block chan struct{}

	// Played records every PCM slice passed to Play.
	Played [][]byte

	// Stops counts Stop invocations.
	Stops int

	playing bool
}

// Compile-time interface check.
var _ audio.Player = (*Player)(nil)

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.Played = append(p.Played, buf)
	err := p.PlayErr
	block := p.Block
	p.playing = err == nil
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			p.setPlaying(false)
			return ctx.Err()
		}
	}
	p.setPlaying(false)
	return nil
}

func (p *Player) setPlaying(v bool) {
	p.mu.Lock()
	p.playing = v
	p.mu.Unlock()
}

// Playing implements audio.Player.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop implements audio.Player.
func (p *Player) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Stops++
	p.playing = false
	return nil
}
