// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/perivale/sonara/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// Transcripts is consumed one element per Transcribe call; when the
	// slice is exhausted the last element is returned again. May be nil
	// together with TranscribeErr to return (nil, nil).
	Transcripts []*stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// ReadyErr is returned from Ready.
	ReadyErr error

	// Audio records every byte slice passed to Transcribe in order.
	Audio [][]byte

	next int
}

// Compile-time interface check.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, audio []byte) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(audio))
	copy(buf, audio)
	p.Audio = append(p.Audio, buf)

	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if len(p.Transcripts) == 0 {
		return nil, nil
	}
	t := p.Transcripts[min(p.next, len(p.Transcripts)-1)]
	p.next++
	return t, nil
}

// Ready implements stt.Provider.
func (p *Provider) Ready(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ReadyErr
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "mock"
}

// Calls returns the number of Transcribe invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Audio)
}
