// Package tokenizer normalises document text into the term stream the index
// stores. It lower-cases input and splits on non-alphanumeric boundaries.
// The pipeline is pure and deterministic: the same text always yields the
// same ordered terms, so re-indexing a document reproduces its postings
// exactly.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into an ordered slice of normalised terms. Empty
// tokens produced by consecutive separators are discarded; everything else
// is kept, so the slice length is the document length the index records.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Counts tokenizes text and folds the term stream into per-term frequencies.
// The returned total is the token count, which becomes the document's stored
// length.
func Counts(text string) (map[string]int, int) {
	terms := Tokenize(text)
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts, len(terms)
}
