// Package mock provides a scriptable in-memory apps.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/perivale/sonara/pkg/provider/apps"
)

// Provider implements apps.Provider with fixed data and call recording.
type Provider struct {
	mu sync.Mutex

	// Apps is the inventory returned by List.
	Apps []apps.App

	// ListErr, when non-nil, is returned by List instead of Apps.
	ListErr error

	// LaunchErr, when non-nil, is returned by every Launch call.
	LaunchErr error

	// Launched records the package IDs passed to Launch, in order.
	Launched []string

	// ListCalls counts List invocations.
	ListCalls int
}

var _ apps.Provider = (*Provider)(nil)

func (p *Provider) List(_ context.Context) ([]apps.App, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListCalls++
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	out := make([]apps.App, len(p.Apps))
	copy(out, p.Apps)
	return out, nil
}

func (p *Provider) Launch(_ context.Context, packageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Launched = append(p.Launched, packageID)
	return p.LaunchErr
}

// LaunchedPackages returns a copy of the recorded launches.
func (p *Provider) LaunchedPackages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Launched))
	copy(out, p.Launched)
	return out
}
