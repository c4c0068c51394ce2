// Package indexer chunks documents and drives ingestion into the chunk store, the vector
// partitions and the lexical index.
package indexer

import (
	"fmt"
	"strings"
)

// sentence terminators, tried in order
var separators = []string{". ", "! ", "? ", "\n"}

// snapRegion is the trailing share of a window searched for a sentence end.
const snapRegion = 0.2

// Span is one chunk window over the preprocessed text. Start and End are rune offsets.
type Span struct {
	Index           int
	Start           int
	End             int
	Text            string
	EstimatedTokens int
}

// Chunker splits text into overlapping character windows that end on a sentence
// boundary when one lies in the last fifth of the window.
type Chunker struct {
	chunkSize     int
	chunkOverlap  int
	charsPerToken int
}

// NewChunker creates a chunker with the given window and overlap in characters.
func NewChunker(chunkSize, chunkOverlap, charsPerToken int) *Chunker {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Chunker{
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		charsPerToken: charsPerToken,
	}
}

// Split preprocesses text and returns its chunk spans.
func (c *Chunker) Split(text string) []Span {
	runes := []rune(Preprocess(text))
	if len(runes) == 0 {
		return nil
	}
	var spans []Span
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end < len(runes) {
			end = c.snap(runes, start, end)
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			spans = append(spans, Span{
				Index:           len(spans),
				Start:           start,
				End:             end,
				Text:            chunk,
				EstimatedTokens: len([]rune(chunk)) / c.charsPerToken,
			})
		}
		if end >= len(runes) {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// snap moves end back to just after the last sentence terminator in the final 20% of
// the window. The first separator kind that occurs wins.
func (c *Chunker) snap(runes []rune, start, end int) int {
	regionStart := start + int(float64(c.chunkSize)*(1-snapRegion))
	region := string(runes[regionStart:end])
	for _, sep := range separators {
		if i := strings.LastIndex(region, sep); i >= 0 {
			return regionStart + len([]rune(region[:i])) + len([]rune(sep))
		}
	}
	return end
}

// ChunkID returns the id of the n-th chunk of a document.
func ChunkID(docID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, n)
}
