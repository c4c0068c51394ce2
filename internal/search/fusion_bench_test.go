package search

import (
	"fmt"
	"testing"
)

func BenchmarkFuseRRF(b *testing.B) {
	vec := RankedList{Weight: 0.5}
	lex := RankedList{Weight: 0.5}
	for i := 0; i < 100; i++ {
		vec.Items = append(vec.Items, Candidate{KnowledgeBaseID: "produkte", ChunkID: fmt.Sprintf("doc_chunk_%d", i), Score: float64(100-i) / 100})
		lex.Items = append(lex.Items, Candidate{KnowledgeBaseID: "produkte", ChunkID: fmt.Sprintf("doc_chunk_%d", 99-i), Score: float64(100 - i)})
	}
	lists := []RankedList{vec, lex}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FuseRRF(lists, 60)
	}
}
