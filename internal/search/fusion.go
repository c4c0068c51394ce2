package search

import "sort"

// Candidate is one chunk in a ranked list. Chunk IDs are unique per knowledge base only, so
// candidates are keyed by both.
type Candidate struct {
	KnowledgeBaseID string
	ChunkID         string
	Score           float64
}

func (c Candidate) key() string { return c.KnowledgeBaseID + "\x00" + c.ChunkID }

// RankedList is one retrieval leg's candidates, best first, with the leg's fusion weight.
type RankedList struct {
	Weight float64
	Items  []Candidate
}

// FusedResult is a candidate after Reciprocal Rank Fusion. LegScores holds the candidate's
// original score in each input list (0 when absent), in input order.
type FusedResult struct {
	Candidate
	LegScores []float64
}

// FuseRRF merges ranked lists with Reciprocal Rank Fusion: every item adds
// weight/(k+rank+1) for its 0-based rank. Lists with a non-positive weight are ignored.
// The result is sorted by fused score (ties keep first appearance) and normalised so the
// top score is 1.0.
func FuseRRF(lists []RankedList, k int) []*FusedResult {
	byKey := make(map[string]*FusedResult)
	var order []*FusedResult
	for li, list := range lists {
		if list.Weight <= 0 {
			continue
		}
		for rank, item := range list.Items {
			r, ok := byKey[item.key()]
			if !ok {
				r = &FusedResult{
					Candidate: Candidate{KnowledgeBaseID: item.KnowledgeBaseID, ChunkID: item.ChunkID},
					LegScores: make([]float64, len(lists)),
				}
				byKey[item.key()] = r
				order = append(order, r)
			}
			r.Score += list.Weight / float64(k+rank+1)
			r.LegScores[li] = item.Score
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].Score > order[j].Score })
	if len(order) > 0 && order[0].Score > 0 {
		top := order[0].Score
		for _, r := range order {
			r.Score /= top
		}
	}
	return order
}

// normalizeByMax scales candidate scores so the best is 1.0.
func normalizeByMax(items []Candidate) []float64 {
	out := make([]float64, len(items))
	var top float64
	for _, c := range items {
		top = max(top, c.Score)
	}
	for i, c := range items {
		if top > 0 {
			out[i] = c.Score / top
		}
	}
	return out
}
