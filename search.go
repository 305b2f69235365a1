package mirix

import (
	"math"
	"strings"

	"github.com/agext/levenshtein"
)

// PartialRatio scores how well query matches text on a 0–100 scale using
// Levenshtein similarity of the best-aligned window, mirroring the
// partial-ratio metric: the shorter string is slid over the longer one and
// the highest window similarity wins. Comparison is case-insensitive.
func PartialRatio(query, text string) int {
	a := []rune(strings.ToLower(query))
	b := []rune(strings.ToLower(text))
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	short := string(a)
	best := 0.0
	for i := 0; i+len(a) <= len(b); i++ {
		s := levenshtein.Similarity(short, string(b[i:i+len(a)]), nil)
		if s > best {
			best = s
			if best == 1 {
				break
			}
		}
	}
	return int(math.Round(best * 100))
}

// rankFuzzy sorts items by descending PartialRatio of query against the text
// extracted per item, keeping at most limit results. Order among equal
// scores follows the input (recency) order. Used by the managers for
// fuzzy_match, which loads all candidates and scores in-process.
func rankFuzzy[T any](items []T, query string, limit int, textOf func(T) string) []T {
	type scored struct {
		item  T
		score int
	}
	ranked := make([]scored, 0, len(items))
	for _, it := range items {
		ranked = append(ranked, scored{item: it, score: PartialRatio(query, textOf(it))})
	}
	// Stable insertion keeps input order for ties.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]T, len(ranked))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out
}
