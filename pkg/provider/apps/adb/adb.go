// Package adb provides an apps.Provider backed by the Android Debug Bridge.
//
// It shells out to the adb binary: the inventory comes from
// `adb shell pm list packages`, launches go through
// `adb shell monkey -p <pkg> -c android.intent.category.LAUNCHER 1`.
// Display names are derived from the package ID (the platform does not expose
// labels through pm), so resolution quality depends mostly on the alias table
// and the package-id substring tier of the resolver.
//
// Usage:
//
//	p := adb.New(adb.WithSerial("emulator-5554"))
//	installed, err := p.List(ctx)
//	err = p.Launch(ctx, "com.google.android.youtube")
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/perivale/sonara/pkg/provider/apps"
)

const (
	defaultBinary  = "adb"
	defaultTimeout = 10 * time.Second
)

// Compile-time interface assertion.
var _ apps.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary overrides the adb executable path. Default: "adb" on $PATH.
func WithBinary(path string) Option {
	return func(p *Provider) { p.binary = path }
}

// WithSerial targets a specific device when several are connected
// (adb -s <serial>).
func WithSerial(serial string) Option {
	return func(p *Provider) { p.serial = serial }
}

// WithTimeout bounds each adb invocation. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Provider implements apps.Provider over the adb CLI.
type Provider struct {
	binary  string
	serial  string
	timeout time.Duration

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, args ...string) ([]byte, error)
}

// New creates an adb-backed Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		binary:  defaultBinary,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.runCommand == nil {
		p.runCommand = p.execAdb
	}
	return p
}

// List implements apps.Provider. It enumerates installed packages, marking
// system packages via a second `pm list packages -s` pass.
func (p *Provider) List(ctx context.Context) ([]apps.App, error) {
	out, err := p.runCommand(ctx, "shell", "pm", "list", "packages")
	if err != nil {
		return nil, fmt.Errorf("adb: list packages: %w", err)
	}
	all := parsePackageList(out)

	sysOut, err := p.runCommand(ctx, "shell", "pm", "list", "packages", "-s")
	if err != nil {
		// Non-fatal: everything is reported as non-system.
		sysOut = nil
	}
	system := make(map[string]struct{})
	for _, pkg := range parsePackageList(sysOut) {
		system[pkg] = struct{}{}
	}

	result := make([]apps.App, 0, len(all))
	for _, pkg := range all {
		_, isSys := system[pkg]
		result = append(result, apps.App{
			PackageID: pkg,
			Name:      displayNameFor(pkg),
			System:    isSys,
		})
	}
	return result, nil
}

// Launch implements apps.Provider. Failures are classified into typed
// apps.LaunchError reasons from the monkey tool's output.
func (p *Provider) Launch(ctx context.Context, packageID string) error {
	out, err := p.runCommand(ctx, "shell", "monkey",
		"-p", packageID, "-c", "android.intent.category.LAUNCHER", "1")
	combined := strings.ToLower(string(out))

	switch {
	case err == nil && !strings.Contains(combined, "no activities found"):
		return nil
	case strings.Contains(combined, "no activities found"):
		return &apps.LaunchError{PackageID: packageID, Reason: apps.FailureNoLaunchableActivity, Err: err}
	case strings.Contains(combined, "does not exist") || strings.Contains(combined, "not found"):
		return &apps.LaunchError{PackageID: packageID, Reason: apps.FailureNotFound, Err: err}
	case strings.Contains(combined, "securityexception") || strings.Contains(combined, "permission denial"):
		return &apps.LaunchError{PackageID: packageID, Reason: apps.FailureSecurityRestricted, Err: err}
	default:
		return &apps.LaunchError{PackageID: packageID, Reason: apps.FailureOther, Err: err}
	}
}

// execAdb runs the adb binary with the provider's serial and timeout applied.
func (p *Provider) execAdb(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	full := args
	if p.serial != "" {
		full = append([]string{"-s", p.serial}, args...)
	}
	cmd := exec.CommandContext(ctx, p.binary, full...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// parsePackageList extracts package IDs from `pm list packages` output,
// which is one "package:<id>" line per app.
func parsePackageList(out []byte) []string {
	var pkgs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		pkg, ok := strings.CutPrefix(line, "package:")
		if !ok || pkg == "" {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// displayNameFor derives a best-effort display name from a package ID:
// the last dot-segment, title-cased ("com.google.android.youtube" → "Youtube").
func displayNameFor(packageID string) string {
	segs := strings.Split(packageID, ".")
	last := segs[len(segs)-1]
	if last == "" {
		return packageID
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
