package ranking

import (
	"sort"

	"github.com/hyperjump/hybridkb/internal/models"
)

// Reranker applies additive boosts to fused results and re-sorts them.
type Reranker struct {
	config  *BoostConfig
	signals []Signal
}

// NewReranker creates a Reranker. A nil config uses DefaultBoostConfig.
func NewReranker(config *BoostConfig) *Reranker {
	if config == nil {
		config = DefaultBoostConfig()
	}
	config.ApplyDefaults()
	return &Reranker{config: config, signals: DefaultSignals(config)}
}

// WithSignals replaces the signal set.
func (r *Reranker) WithSignals(signals []Signal) *Reranker {
	r.signals = signals
	return r
}

// Score returns the boost breakdown for one piece of content at the given score.
func (r *Reranker) Score(score float64, ctx *ScoringContext) *Breakdown {
	b := &Breakdown{Original: score}
	for _, s := range r.signals {
		boost, reason := s.Boost(ctx)
		if boost <= 0 {
			continue
		}
		b.Boost += boost
		b.Reasons = append(b.Reasons, reason)
	}
	b.Final = min(1, score+b.Boost)
	return b
}

// Rerank boosts every result in place, caps scores at 1.0 and stable-sorts the slice by
// the adjusted score. Results tied at the cap are ordered by boost. Citation signals only
// fire when citations is true. Ranks are renumbered from 1.
func (r *Reranker) Rerank(query string, results []*models.SearchResult, citations bool) []*models.SearchResult {
	if len(results) == 0 {
		return results
	}
	keywords := QueryKeywords(query)
	for _, res := range results {
		b := r.Score(res.Score, NewScoringContext(res.Content, keywords, citations))
		res.Score = b.Final
		res.Boost = b.Boost
		res.BoostReasons = b.Reasons
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Boost > results[j].Boost
	})
	for i, res := range results {
		res.Rank = i + 1
	}
	return results
}

// Stats summarises the boosts recorded on results.
func Stats(results []*models.SearchResult) *models.RerankStats {
	st := &models.RerankStats{Count: len(results)}
	if len(results) == 0 {
		return st
	}
	st.Reasons = make(map[string]int)
	var sum float64
	for _, res := range results {
		sum += res.Boost
		if res.Boost > st.MaxBoost {
			st.MaxBoost = res.Boost
		}
		for _, reason := range res.BoostReasons {
			st.Reasons[reason]++
		}
	}
	st.AverageBoost = sum / float64(len(results))
	return st
}
