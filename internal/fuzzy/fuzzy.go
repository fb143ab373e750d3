// Package fuzzy provides the string-similarity primitives shared by command
// matching and app-name resolution: Levenshtein edit distance, a normalised
// similarity score in [0,1], and a best-match scan with a prefix bonus.
//
// All functions are pure and safe for concurrent use.
package fuzzy

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Distance returns the Levenshtein edit distance between a and b
// (insertions, deletions, and substitutions at unit cost).
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity returns a score in [0,1] where 1 means the strings are equal.
// It is defined as 1 - Distance(a,b)/max(len(a), len(b), 1), computed over
// runes so that multi-byte input does not skew the denominator.
func Similarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	denom := max(la, lb, 1)
	return 1 - float64(Distance(a, b))/float64(denom)
}

// BestMatch scans candidates and returns the index of the highest-scoring one
// together with its score, comparing query against nameOf(i) for each
// candidate. A candidate scores max(Similarity, prefix bonus) where the bonus
// is 1.0 when either string is a prefix of the other. Comparison is
// case-insensitive. Ties keep the first candidate found.
//
// Returns (-1, 0) when n is zero.
func BestMatch(query string, n int, nameOf func(int) string) (int, float64) {
	q := strings.ToLower(strings.TrimSpace(query))
	bestIdx := -1
	bestScore := 0.0

	for i := 0; i < n; i++ {
		name := strings.ToLower(strings.TrimSpace(nameOf(i)))
		score := Similarity(name, q)
		if name != "" && q != "" &&
			(strings.HasPrefix(name, q) || strings.HasPrefix(q, name)) {
			score = 1.0
		}
		if bestIdx == -1 || score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	return bestIdx, bestScore
}
