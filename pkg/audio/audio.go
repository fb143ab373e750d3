// Package audio defines the capture and playback abstractions the
// recognition session is built on.
//
// A Recorder captures one utterance at a time from the device microphone and
// returns the raw PCM bytes when stopped. A Player renders synthesised PCM
// through the device speaker. Both sides of the pipeline use 16-bit signed
// little-endian PCM; sample rates are fixed per implementation and documented
// there.
//
// Implementations must be safe for concurrent use.
package audio

import (
	"context"
	"errors"
)

// ErrNoDevice is returned when no capture or playback device is connected.
var ErrNoDevice = errors.New("audio: no device connected")

// ErrPermissionDenied is returned when the device refused microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Recording is an in-progress microphone capture.
type Recording interface {
	// Stop ends the capture and returns all PCM accumulated since
	// StartRecording. Calling Stop more than once returns the same data.
	Stop() ([]byte, error)

	// Cancel ends the capture and discards the accumulated audio. Safe to
	// call after Stop; it is then a no-op.
	Cancel() error
}

// Recorder captures microphone audio one utterance at a time.
type Recorder interface {
	// StartRecording begins a new capture. Only one recording may be active
	// at a time; starting a second one before stopping the first returns an
	// error. Returns ErrPermissionDenied if the device refused microphone
	// access and ErrNoDevice if no device is connected.
	StartRecording(ctx context.Context) (Recording, error)
}

// Player renders PCM audio through the device speaker.
type Player interface {
	// Play submits pcm for playback and blocks until the device reports the
	// audio has finished rendering, ctx is cancelled, or Stop is called.
	Play(ctx context.Context, pcm []byte) error

	// Playing reports whether a playback is currently in progress.
	Playing() bool

	// Stop aborts any in-progress playback. It is safe to call when nothing
	// is playing.
	Stop(ctx context.Context) error
}
