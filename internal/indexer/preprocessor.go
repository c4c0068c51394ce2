package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text for chunking: control characters are dropped,
// whitespace runs collapse to one space and the ends are trimmed.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := true
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}
