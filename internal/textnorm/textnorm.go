// Package textnorm provides the text collaborators consumed by the
// pronunciation evaluator: whitespace tokenisation, punctuation stripping,
// word equality comparison, and per-language reversible preprocessing.
//
// Everything in this package is stateless or read-only after construction
// and is safe for concurrent use.
package textnorm

import (
	"strings"
	"unicode"
)

// Comparator decides whether two surface word forms should be treated as the
// same word during alignment.
//
// Implementations must be safe for concurrent use.
type Comparator interface {
	AreWordsEqual(a, b string) bool
}

// ComparatorFunc adapts an ordinary function to the [Comparator] interface.
type ComparatorFunc func(a, b string) bool

// AreWordsEqual calls f(a, b).
func (f ComparatorFunc) AreWordsEqual(a, b string) bool { return f(a, b) }

// SplitByWhitespace splits text on runs of Unicode white space. Empty tokens
// are never returned; an empty or blank text yields a nil slice.
func SplitByWhitespace(text string) []string {
	return strings.FieldsFunc(text, unicode.IsSpace)
}

// StripPunctuation removes leading and trailing punctuation and symbol runes
// from word. Inner punctuation such as the apostrophe in "l'homme" or the
// hyphen in "peut-être" is preserved.
func StripPunctuation(word string) string {
	return strings.TrimFunc(word, isPunctOrSymbol)
}

func isPunctOrSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
