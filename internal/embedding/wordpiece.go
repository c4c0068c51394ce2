package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hyperjump/hybridkb/internal/lexical"
)

// BERT-style special token ids and vocabulary size.
const (
	clsTokenID = 101
	sepTokenID = 102
	padTokenID = 0
	vocabSize  = 30522
	// ids below this are reserved for special and unused tokens
	firstWordID = 1000
)

// HashTokenizer maps words onto a BERT vocabulary range by hashing. It does not need a
// vocabulary file and is deterministic across runs.
type HashTokenizer struct{}

// Tokenize returns input_ids, attention_mask and token_type_ids padded to maxTokens.
func (HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)
	if maxTokens < 2 {
		return
	}

	words := splitWords(lexical.Normalize(text))
	if len(words) > maxTokens-2 {
		words = words[:maxTokens-2]
	}

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1
	pos := 1
	for _, w := range words {
		inputIDs[pos] = wordID(w)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	for i := pos + 1; i < maxTokens; i++ {
		inputIDs[i] = padTokenID
	}
	return
}

// splitWords splits on whitespace and keeps punctuation as separate tokens.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func wordID(w string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(w))
	return int64(firstWordID + h.Sum32()%uint32(vocabSize-firstWordID))
}
