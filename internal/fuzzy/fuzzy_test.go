package fuzzy

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"youtube", "youtube", 0},
		{"maps", "map", 1},
		{"camera", "camara", 1},
	}

	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDistanceZeroIffEqual(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "a", "status", "open maps"} {
		if Distance(s, s) != 0 {
			t.Errorf("Distance(%q, %q) != 0", s, s)
		}
	}
	if Distance("abc", "abd") == 0 {
		t.Error("Distance of unequal strings must be non-zero")
	}
}

func TestSimilarityIdentityAndSymmetry(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"status", "status"},
		{"youtube", "you tube"},
		{"camera", "camara"},
		{"open", "launch"},
	}

	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])
		if math.Abs(ab-ba) > 1e-12 {
			t.Errorf("Similarity not symmetric for %q/%q: %f vs %f", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Similarity(%q, %q) = %f out of [0,1]", p[0], p[1], ab)
		}
	}

	for _, s := range []string{"a", "status", "open the camera"} {
		if got := Similarity(s, s); got != 1 {
			t.Errorf("Similarity(%q, %q) = %f, want 1", s, s, got)
		}
	}
}

func TestSimilarityEmptyStrings(t *testing.T) {
	t.Parallel()

	// max(len,len,1) keeps the denominator positive.
	if got := Similarity("", ""); got != 1 {
		t.Errorf("Similarity(\"\", \"\") = %f, want 1", got)
	}
	if got := Similarity("", "ab"); got != 0 {
		t.Errorf("Similarity(\"\", \"ab\") = %f, want 0", got)
	}
}

func TestBestMatch(t *testing.T) {
	t.Parallel()

	candidates := []string{"YouTube", "YouTube Music", "Yelp", "Maps"}
	nameOf := func(i int) string { return candidates[i] }

	idx, score := BestMatch("youtube", len(candidates), nameOf)
	if idx != 0 {
		t.Fatalf("BestMatch index = %d, want 0", idx)
	}
	if score != 1.0 {
		t.Errorf("BestMatch score = %f, want 1.0 (exact/prefix)", score)
	}
}

func TestBestMatchPrefixBonus(t *testing.T) {
	t.Parallel()

	candidates := []string{"Calculator", "Calendar"}
	idx, score := BestMatch("calc", len(candidates), func(i int) string { return candidates[i] })
	if idx != 0 || score != 1.0 {
		t.Errorf("BestMatch(calc) = (%d, %f), want (0, 1.0) via prefix bonus", idx, score)
	}
}

func TestBestMatchTieKeepsFirst(t *testing.T) {
	t.Parallel()

	candidates := []string{"Notes", "Notes"}
	idx, _ := BestMatch("notes", len(candidates), func(i int) string { return candidates[i] })
	if idx != 0 {
		t.Errorf("tie must keep the first candidate, got index %d", idx)
	}
}

func TestBestMatchEmpty(t *testing.T) {
	t.Parallel()

	idx, score := BestMatch("anything", 0, func(int) string { return "" })
	if idx != -1 || score != 0 {
		t.Errorf("BestMatch with no candidates = (%d, %f), want (-1, 0)", idx, score)
	}
}
