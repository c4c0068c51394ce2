// Package lexical provides the per-knowledge-base lexical index: tokenisation, a BM25
// index persisted with msgpack, an optional bleve backend and a manager that rebuilds
// indexes from the chunk store.
package lexical

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var umlautReplacer = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")

// Normalize lowercases text, maps German umlauts to their ASCII digraphs and strips any
// remaining diacritics.
func Normalize(text string) string {
	s := umlautReplacer.Replace(strings.ToLower(text))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return s
}

// Tokenize turns text into index terms: alphanumeric runs of at least two characters
// after Normalize, with stopwords removed.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || IsStopword(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
