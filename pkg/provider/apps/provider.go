// Package apps defines the Provider interface for the installed-application
// inventory of the device and for launching applications by package ID.
//
// The engine treats the inventory as read-only: it is fetched once and cached
// by the caller for the process lifetime, invalidated only by an explicit
// cache clear. Implementations must be safe for concurrent use.
package apps

import (
	"context"
	"errors"
	"fmt"
)

// App describes one installed application.
type App struct {
	// PackageID is the unique application identifier
	// (e.g., "com.google.android.youtube").
	PackageID string

	// Name is the human-readable display name (e.g., "YouTube").
	Name string

	// Version is the installed version string, when known.
	Version string

	// IconURI is an optional handle to the app icon for UI layers. The engine
	// never dereferences it.
	IconURI string

	// System marks preinstalled system applications.
	System bool
}

// FailureReason classifies why a launch attempt failed.
type FailureReason string

const (
	// FailureSecurityRestricted means the platform refused the launch for
	// permission or policy reasons.
	FailureSecurityRestricted FailureReason = "security-restricted"

	// FailureNotFound means no application with the package ID is installed.
	FailureNotFound FailureReason = "not-found"

	// FailureNoLaunchableActivity means the package exists but exposes no
	// activity that can be started.
	FailureNoLaunchableActivity FailureReason = "no-launchable-activity"

	// FailureOther covers everything else (I/O errors, device offline, ...).
	FailureOther FailureReason = "other"
)

// LaunchError is the typed failure returned by Provider.Launch.
type LaunchError struct {
	PackageID string
	Reason    FailureReason
	Err       error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("apps: launch %s: %s: %v", e.PackageID, e.Reason, e.Err)
	}
	return fmt.Sprintf("apps: launch %s: %s", e.PackageID, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ReasonOf extracts the FailureReason from err. Returns FailureOther when err
// is not a *LaunchError.
func ReasonOf(err error) FailureReason {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Reason
	}
	return FailureOther
}

// Provider is the abstraction over the device's application inventory.
type Provider interface {
	// List returns all installed applications. The result may be expensive to
	// compute; callers should cache it.
	List(ctx context.Context) ([]App, error)

	// Launch starts the application identified by packageID. On failure the
	// returned error is a *LaunchError carrying a FailureReason.
	Launch(ctx context.Context, packageID string) error
}

// Cache wraps a Provider with a process-lifetime inventory cache. The
// inventory is fetched on first use and reused until Invalidate is called.
// Cache is not safe for concurrent use by itself; the session model is
// single-flight, so calls arrive sequentially.
type Cache struct {
	inner Provider
	apps  []App
	ok    bool
}

// NewCache returns a caching wrapper around inner.
func NewCache(inner Provider) *Cache {
	return &Cache{inner: inner}
}

// List returns the cached inventory, fetching it on first call.
func (c *Cache) List(ctx context.Context) ([]App, error) {
	if c.ok {
		return c.apps, nil
	}
	apps, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	c.apps = apps
	c.ok = true
	return apps, nil
}

// Launch delegates to the wrapped provider.
func (c *Cache) Launch(ctx context.Context, packageID string) error {
	return c.inner.Launch(ctx, packageID)
}

// Invalidate drops the cached inventory so the next List refetches.
func (c *Cache) Invalidate() {
	c.apps = nil
	c.ok = false
}
