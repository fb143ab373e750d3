// Package apps implements resolution of free-text application names against
// the device inventory: alias table first, then exact/substring/word-subset
// matching, then a fuzzy fallback, with "did you mean" suggestions on a miss.
package apps

import (
	"regexp"
	"sort"
	"strings"

	"github.com/perivale/sonara/internal/fuzzy"
	"github.com/perivale/sonara/pkg/provider/apps"
)

const (
	// fuzzyThreshold is the default minimum fuzzy score for tier 6.
	fuzzyThreshold = 0.6

	// cameraFuzzyThreshold is the relaxed score used when the query looks like
	// a camera request; "cam"/"camera" transcribe noisily.
	cameraFuzzyThreshold = 0.5

	// maxSuggestions caps the "did you mean" list.
	maxSuggestions = 3
)

// cameraPattern recognises camera-style queries that get the relaxed
// fuzzy threshold.
var cameraPattern = regexp.MustCompile(`\bcam(era)?\b`)

// Match is a successful resolution.
type Match struct {
	// PackageID is the launchable target.
	PackageID string

	// Name is the display name of the matched app, or the alias key when the
	// match came straight from the alias table.
	Name string

	// Confidence is 1.0 for alias/exact/substring/word-subset hits and the
	// fuzzy score for tier-6 hits.
	Confidence float64
}

// Resolver maps spoken app names to installed packages.
// The alias table is fixed at construction; Resolver is otherwise stateless
// and safe for concurrent use.
type Resolver struct {
	aliases map[string]string
}

// NewResolver creates a Resolver with the given alias table. Keys are
// normalised (lower-cased, whitespace collapsed) on construction.
func NewResolver(aliases map[string]string) *Resolver {
	norm := make(map[string]string, len(aliases))
	for k, v := range aliases {
		norm[normalize(k)] = v
	}
	return &Resolver{aliases: norm}
}

// DefaultAliases is the built-in short-name table consulted before any
// inventory matching.
func DefaultAliases() map[string]string {
	return map[string]string{
		"youtube":   "com.google.android.youtube",
		"maps":      "com.google.android.apps.maps",
		"chrome":    "com.android.chrome",
		"gmail":     "com.google.android.gm",
		"camera":    "com.android.camera2",
		"settings":  "com.android.settings",
		"calendar":  "com.google.android.calendar",
		"photos":    "com.google.android.apps.photos",
		"play":      "com.android.vending",
		"whatsapp":  "com.whatsapp",
		"spotify":   "com.spotify.music",
		"clock":     "com.google.android.deskclock",
		"messages":  "com.google.android.apps.messaging",
		"phone":     "com.google.android.dialer",
		"files":     "com.google.android.apps.nbu.files",
		"translate": "com.google.android.apps.translate",
	}
}

// Resolve matches query against the alias table and the installed-app
// inventory. Tiers are tried in order; the first hit wins:
//
//  1. Alias lookup on the whole normalised query, then on each query word.
//  2. Exact case-insensitive display-name match.
//  3. Display-name substring match.
//  4. Package-ID substring match.
//  5. All query words present as substrings of the display name.
//  6. Fuzzy best-match over display names with an acceptance threshold of
//     0.6, relaxed to 0.5 for camera-style queries.
//
// A match on a settings package is skipped unless the query itself mentions
// "setting", so noisy input never lands the user in system settings.
//
// An alias hit is returned even when the aliased package is absent from the
// inventory: launch is optimistic and failure surfaces at launch time.
// Returns nil when no tier matches.
func (r *Resolver) Resolve(query string, installed []apps.App) *Match {
	q := normalize(query)
	if q == "" {
		return nil
	}
	wantsSettings := strings.Contains(q, "setting")

	// Tier 1: alias table, whole query first, then individual words.
	if pkg, ok := r.aliases[q]; ok {
		if m := r.guard(&Match{PackageID: pkg, Name: q, Confidence: 1}, wantsSettings); m != nil {
			return m
		}
	}
	for _, w := range strings.Fields(q) {
		if pkg, ok := r.aliases[w]; ok {
			if m := r.guard(&Match{PackageID: pkg, Name: w, Confidence: 1}, wantsSettings); m != nil {
				return m
			}
		}
	}

	// Tier 2: exact display name.
	for _, a := range installed {
		if normalize(a.Name) == q {
			if m := r.guard(&Match{PackageID: a.PackageID, Name: a.Name, Confidence: 1}, wantsSettings); m != nil {
				return m
			}
		}
	}

	// Tier 3: display-name substring.
	for _, a := range installed {
		if strings.Contains(normalize(a.Name), q) {
			if m := r.guard(&Match{PackageID: a.PackageID, Name: a.Name, Confidence: 1}, wantsSettings); m != nil {
				return m
			}
		}
	}

	// Tier 4: package-ID substring.
	compact := strings.ReplaceAll(q, " ", "")
	for _, a := range installed {
		if strings.Contains(strings.ToLower(a.PackageID), compact) {
			if m := r.guard(&Match{PackageID: a.PackageID, Name: a.Name, Confidence: 1}, wantsSettings); m != nil {
				return m
			}
		}
	}

	// Tier 5: every query word is a substring of the display name.
	words := strings.Fields(q)
	for _, a := range installed {
		name := normalize(a.Name)
		all := len(words) > 0
		for _, w := range words {
			if !strings.Contains(name, w) {
				all = false
				break
			}
		}
		if all {
			if m := r.guard(&Match{PackageID: a.PackageID, Name: a.Name, Confidence: 1}, wantsSettings); m != nil {
				return m
			}
		}
	}

	// Tier 6: fuzzy fallback.
	threshold := fuzzyThreshold
	if cameraPattern.MatchString(q) {
		threshold = cameraFuzzyThreshold
	}
	idx, score := fuzzy.BestMatch(q, len(installed), func(i int) string {
		return installed[i].Name
	})
	if idx >= 0 && score >= threshold {
		a := installed[idx]
		if m := r.guard(&Match{PackageID: a.PackageID, Name: a.Name, Confidence: score}, wantsSettings); m != nil {
			return m
		}
	}

	return nil
}

// guard implements the settings-skip rule: a resolved settings package is
// dropped unless the user explicitly asked for settings.
func (r *Resolver) guard(m *Match, wantsSettings bool) *Match {
	if strings.Contains(strings.ToLower(m.PackageID), "settings") && !wantsSettings {
		return nil
	}
	return m
}

// Suggest returns up to three installed apps whose names share a 3-character
// prefix overlap with the query, for a "did you mean" response. This is a
// deliberately cheap heuristic distinct from the fuzzy matcher.
func (r *Resolver) Suggest(query string, installed []apps.App) []string {
	q := normalize(query)
	if len(q) < 3 {
		return nil
	}
	prefix := q[:3]

	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	seen := make(map[string]struct{})
	for _, a := range installed {
		name := normalize(a.Name)
		if len(name) < 3 || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		hits = append(hits, scored{name: a.Name, score: fuzzy.Similarity(name, q)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxSuggestions {
		hits = hits[:maxSuggestions]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// normalize lower-cases s and collapses whitespace runs.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
