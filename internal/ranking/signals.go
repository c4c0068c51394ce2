package ranking

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	articlePattern = regexp.MustCompile(`(?i)Art\.\s*\d+[a-z]?`)
	srPattern      = regexp.MustCompile(`(?i)SR\s*\d+\.?\d*`)
)

// DefinitionPhrases mark content that defines a term.
var DefinitionPhrases = []string{" ist ", " sind ", " bedeutet ", " bezeichnet ", " gilt als "}

// ArticleSignal fires on legal article references such as "Art. 5" or "Art. 335c".
type ArticleSignal struct{ boost float64 }

func (s ArticleSignal) Name() string { return "article_ref" }

func (s ArticleSignal) Boost(ctx *ScoringContext) (float64, string) {
	if !ctx.Citations || !articlePattern.MatchString(ctx.Content) {
		return 0, ""
	}
	return s.boost, s.Name()
}

// SRSignal fires on systematic collection numbers such as "SR 220".
type SRSignal struct{ boost float64 }

func (s SRSignal) Name() string { return "sr_number" }

func (s SRSignal) Boost(ctx *ScoringContext) (float64, string) {
	if !ctx.Citations || !srPattern.MatchString(ctx.Content) {
		return 0, ""
	}
	return s.boost, s.Name()
}

// DefinitionSignal fires when the content contains a definitional phrase.
type DefinitionSignal struct{ boost float64 }

func (s DefinitionSignal) Name() string { return "definition" }

func (s DefinitionSignal) Boost(ctx *ScoringContext) (float64, string) {
	for _, p := range DefinitionPhrases {
		if strings.Contains(ctx.Lower, p) {
			return s.boost, s.Name()
		}
	}
	return 0, ""
}

// KeywordSignal scales with the number of query keywords found verbatim in the content.
type KeywordSignal struct {
	boost      float64
	minLength  int
	minMatches int
	saturation int
}

func (s KeywordSignal) Name() string { return "keywords" }

func (s KeywordSignal) Boost(ctx *ScoringContext) (float64, string) {
	n := 0
	for _, w := range ctx.Keywords {
		if utf8.RuneCountInString(w) > s.minLength && strings.Contains(ctx.Lower, w) {
			n++
		}
	}
	if n < s.minMatches {
		return 0, ""
	}
	return s.boost * min(float64(n)/float64(s.saturation), 1), fmt.Sprintf("%s(%d)", s.Name(), n)
}

// LengthSignal fires for content inside the optimal length band.
type LengthSignal struct {
	boost    float64
	min, max int
}

func (s LengthSignal) Name() string { return "optimal_length" }

func (s LengthSignal) Boost(ctx *ScoringContext) (float64, string) {
	if ctx.Length < s.min || ctx.Length > s.max {
		return 0, ""
	}
	return s.boost, s.Name()
}

// DefaultSignals returns the signals built from cfg, skipping boosts set to 0.
func DefaultSignals(cfg *BoostConfig) []Signal {
	all := []struct {
		boost  float64
		signal Signal
	}{
		{cfg.ArticleRef, ArticleSignal{cfg.ArticleRef}},
		{cfg.SRNumber, SRSignal{cfg.SRNumber}},
		{cfg.Definition, DefinitionSignal{cfg.Definition}},
		{cfg.KeywordMatch, KeywordSignal{cfg.KeywordMatch, cfg.MinKeywordLength, cfg.MinKeywordMatches, cfg.KeywordSaturation}},
		{cfg.OptimalLength, LengthSignal{cfg.OptimalLength, cfg.OptimalMinLength, cfg.OptimalMaxLength}},
	}
	var out []Signal
	for _, s := range all {
		if s.boost > 0 {
			out = append(out, s.signal)
		}
	}
	return out
}
