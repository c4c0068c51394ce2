// Package ranking re-ranks fused search results with additive relevance boosts.
package ranking

import (
	"strings"
	"unicode/utf8"
)

// ScoringContext is the per-result input shared by all signals.
type ScoringContext struct {
	// Content is the chunk text.
	Content string
	// Lower is the lowercased chunk text.
	Lower string
	// Length is the content length in runes.
	Length int
	// Keywords are the distinct lowercased query words.
	Keywords []string
	// Citations enables citation signals (article and SR references).
	Citations bool
}

// NewScoringContext builds a context for one chunk.
func NewScoringContext(content string, keywords []string, citations bool) *ScoringContext {
	return &ScoringContext{
		Content:   content,
		Lower:     strings.ToLower(content),
		Length:    utf8.RuneCountInString(content),
		Keywords:  keywords,
		Citations: citations,
	}
}

// QueryKeywords returns the distinct whitespace-separated lowercased words of query.
func QueryKeywords(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// Signal is one relevance heuristic. Boost returns the amount to add and a reason label,
// or 0 when the signal does not fire.
type Signal interface {
	Name() string
	Boost(ctx *ScoringContext) (float64, string)
}

// Breakdown records the boosts applied to a result.
type Breakdown struct {
	Original float64
	Boost    float64
	Final    float64
	Reasons  []string
}
