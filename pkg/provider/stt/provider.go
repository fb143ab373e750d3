// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (e.g., a local whisper.cpp
// model or a whisper-server instance) and exposes a uniform batch interface:
// the recognition session records one complete utterance, then submits the
// raw PCM audio for transcription in a single call.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognized text, whitespace-trimmed.
	Text string

	// Confidence is the engine's confidence in Text, in [0.0, 1.0].
	// Engines that do not report confidence set 1.0.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
//
// Audio passed to Transcribe is 16-bit signed little-endian PCM, mono,
// at the sample rate the provider was configured with.
type Provider interface {
	// Transcribe submits one complete utterance and waits for the result.
	// An utterance that contains no recognizable speech yields a Transcript
	// with empty Text and a nil error.
	Transcribe(ctx context.Context, audio []byte) (*Transcript, error)

	// Ready reports whether the engine can accept work right now, e.g.
	// the model is loaded or the server is reachable. Called once at
	// startup and again before each recognition session begins.
	Ready(ctx context.Context) error

	// Name returns a short identifier for this provider, e.g. "whisper" or
	// "whisper-native". Used in logs and metrics labels.
	Name() string
}
