package search

import (
	"math"
	"testing"
)

func cands(kb string, ids ...string) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{KnowledgeBaseID: kb, ChunkID: id, Score: 1 - float64(i)/10}
	}
	return out
}

func fusedIDs(rs []*FusedResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFuseRRF_accumulatesAndNormalizes(t *testing.T) {
	vec := RankedList{Weight: 0.5, Items: cands("kb", "a", "b", "c")}
	lex := RankedList{Weight: 0.5, Items: cands("kb", "c", "b", "d")}
	got := FuseRRF([]RankedList{vec, lex}, 60)

	// b: 0.5/62 + 0.5/62, a: 0.5/61, c: 0.5/63 + 0.5/61
	if want := []string{"c", "b", "a", "d"}; !equalIDs(fusedIDs(got), want) {
		t.Fatalf("order = %v, want %v", fusedIDs(got), want)
	}
	if got[0].Score != 1.0 {
		t.Errorf("top score = %v, want 1.0", got[0].Score)
	}
	wantB := (0.5/62 + 0.5/62) / (0.5/63 + 0.5/61)
	if math.Abs(got[1].Score-wantB) > 1e-12 {
		t.Errorf("b score = %v, want %v", got[1].Score, wantB)
	}
	if math.Abs(got[0].LegScores[0]-0.8) > 1e-9 || got[0].LegScores[1] != 1.0 {
		t.Errorf("c leg scores = %v", got[0].LegScores)
	}
	if got[3].LegScores[0] != 0 {
		t.Errorf("d vector score = %v, want 0", got[3].LegScores[0])
	}
}

func TestFuseRRF_zeroWeightReducesToOtherLeg(t *testing.T) {
	vec := RankedList{Weight: 1, Items: cands("kb", "a", "b", "c")}
	lex := RankedList{Weight: 0, Items: cands("kb", "c", "d", "a")}

	if got := fusedIDs(FuseRRF([]RankedList{vec, lex}, 60)); !equalIDs(got, []string{"a", "b", "c"}) {
		t.Errorf("vector only = %v", got)
	}
	vec.Weight, lex.Weight = 0, 1
	if got := fusedIDs(FuseRRF([]RankedList{vec, lex}, 60)); !equalIDs(got, []string{"c", "d", "a"}) {
		t.Errorf("lexical only = %v", got)
	}
}

func TestFuseRRF_tiesKeepFirstAppearance(t *testing.T) {
	vec := RankedList{Weight: 1, Items: cands("kb", "a", "b")}
	lex := RankedList{Weight: 1, Items: cands("kb", "b", "a")}
	if got := fusedIDs(FuseRRF([]RankedList{vec, lex}, 60)); !equalIDs(got, []string{"a", "b"}) {
		t.Errorf("order = %v, want [a b]", got)
	}
}

func TestFuseRRF_keysIncludeKnowledgeBase(t *testing.T) {
	vec := RankedList{Weight: 1, Items: []Candidate{{KnowledgeBaseID: "kb1", ChunkID: "x"}, {KnowledgeBaseID: "kb2", ChunkID: "x"}}}
	if got := FuseRRF([]RankedList{vec}, 60); len(got) != 2 {
		t.Errorf("got %d results, want 2", len(got))
	}
}

func TestFuseRRF_empty(t *testing.T) {
	if got := FuseRRF(nil, 60); len(got) != 0 {
		t.Errorf("got %v", got)
	}
	if got := FuseRRF([]RankedList{{Weight: 0, Items: cands("kb", "a")}}, 60); len(got) != 0 {
		t.Errorf("zero weight list produced %v", got)
	}
}

func TestNormalizeByMax(t *testing.T) {
	got := normalizeByMax([]Candidate{{Score: 2}, {Score: 4}, {Score: 1}})
	if got[0] != 0.5 || got[1] != 1 || got[2] != 0.25 {
		t.Errorf("got %v", got)
	}
	if got := normalizeByMax([]Candidate{{Score: 0}}); got[0] != 0 {
		t.Errorf("zero max = %v", got)
	}
}
