package apps

import (
	"testing"

	"github.com/perivale/sonara/pkg/provider/apps"
)

var inventory = []apps.App{
	{PackageID: "com.google.android.apps.maps", Name: "Maps"},
	{PackageID: "com.android.settings", Name: "Settings", System: true},
	{PackageID: "com.spotify.music", Name: "Spotify"},
	{PackageID: "com.android.camera2", Name: "Camera"},
	{PackageID: "org.mozilla.firefox", Name: "Firefox Browser"},
	{PackageID: "com.google.android.calculator", Name: "Calculator"},
	{PackageID: "com.google.android.calendar", Name: "Calendar"},
}

func TestResolveAliasFirst(t *testing.T) {
	t.Parallel()

	// An installed app whose name substring-matches "youtube" must lose to
	// the alias table.
	inv := append([]apps.App{
		{PackageID: "com.fake.youtubedownloader", Name: "YouTube Downloader"},
	}, inventory...)

	r := NewResolver(DefaultAliases())
	m := r.Resolve("youtube", inv)
	if m == nil {
		t.Fatal("Resolve(youtube) = nil")
	}
	if m.PackageID != "com.google.android.youtube" {
		t.Errorf("alias must win: got %s", m.PackageID)
	}
	if m.Confidence != 1 {
		t.Errorf("alias confidence = %f, want 1", m.Confidence)
	}
}

func TestResolveAliasBypassesInventory(t *testing.T) {
	t.Parallel()

	// The aliased package is not installed; the alias still resolves and the
	// launch is optimistic (scenario B).
	r := NewResolver(map[string]string{"youtube": "com.google.android.youtube"})
	m := r.Resolve("open youtube", nil)
	if m == nil || m.PackageID != "com.google.android.youtube" {
		t.Fatalf("alias should bypass inventory, got %+v", m)
	}
}

func TestResolveAliasPerWord(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultAliases())
	m := r.Resolve("the spotify app", inventory)
	if m == nil || m.PackageID != "com.spotify.music" {
		t.Fatalf("per-word alias lookup failed: %+v", m)
	}
}

func TestResolveExactName(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	m := r.Resolve("calculator", inventory)
	if m == nil || m.PackageID != "com.google.android.calculator" {
		t.Fatalf("exact name match failed: %+v", m)
	}
}

func TestResolveNameSubstring(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	m := r.Resolve("firefox", inventory)
	if m == nil || m.PackageID != "org.mozilla.firefox" {
		t.Fatalf("name substring match failed: %+v", m)
	}
}

func TestResolvePackageSubstring(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	m := r.Resolve("mozilla", inventory)
	if m == nil || m.PackageID != "org.mozilla.firefox" {
		t.Fatalf("package-id substring match failed: %+v", m)
	}
}

func TestResolveAllWordsPresent(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	m := r.Resolve("browser firefox", inventory)
	if m == nil || m.PackageID != "org.mozilla.firefox" {
		t.Fatalf("all-words match failed: %+v", m)
	}
}

func TestResolveFuzzyFallback(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	m := r.Resolve("spotifi", inventory)
	if m == nil || m.PackageID != "com.spotify.music" {
		t.Fatalf("fuzzy fallback failed: %+v", m)
	}
	if m.Confidence >= 1 || m.Confidence < 0.6 {
		t.Errorf("fuzzy confidence = %f, want [0.6, 1)", m.Confidence)
	}
}

func TestResolveCameraRelaxedThreshold(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	// "camra" vs "Camera": distance 1 over 6 runes → 0.833, passes either
	// threshold; "open cam" exercises the camera pattern with the word tier
	// missing.
	if m := r.Resolve("camra", inventory); m == nil || m.PackageID != "com.android.camera2" {
		t.Fatalf("camera fuzzy resolution failed: %+v", m)
	}
}

func TestSettingsSkipRule(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)

	// A query that does not mention settings must never land on a settings
	// package, whatever the tier scores say.
	only := []apps.App{{PackageID: "com.android.settings", Name: "Settings"}}
	if m := r.Resolve("setti", only); m != nil {
		t.Errorf("settings package resolved without explicit mention: %+v", m)
	}

	// Explicit mention resolves normally.
	m := r.Resolve("settings", only)
	if m == nil || m.PackageID != "com.android.settings" {
		t.Fatalf("explicit settings query must resolve: %+v", m)
	}
}

func TestSettingsSkipViaAlias(t *testing.T) {
	t.Parallel()

	// Even an alias hit is guarded.
	r := NewResolver(map[string]string{"prefs": "com.android.settings"})
	if m := r.Resolve("prefs", nil); m != nil {
		t.Errorf("aliased settings package resolved without mention: %+v", m)
	}
}

func TestResolveMiss(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	if m := r.Resolve("zzzzqqq", inventory); m != nil {
		t.Errorf("expected nil for nonsense query, got %+v", m)
	}
	if m := r.Resolve("", inventory); m != nil {
		t.Errorf("expected nil for empty query, got %+v", m)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	got := r.Suggest("calculater", inventory)
	if len(got) == 0 || len(got) > 3 {
		t.Fatalf("Suggest returned %d entries: %v", len(got), got)
	}
	// Both Calculator and Calendar share the "cal" prefix; the closer one
	// must sort first.
	if got[0] != "Calculator" {
		t.Errorf("best suggestion = %q, want Calculator (full list %v)", got[0], got)
	}
}

func TestSuggestShortQuery(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil)
	if got := r.Suggest("ca", inventory); got != nil {
		t.Errorf("queries under 3 chars yield no suggestions, got %v", got)
	}
}
