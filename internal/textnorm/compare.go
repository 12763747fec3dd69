package textnorm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// apostrophes maps typographic apostrophe look-alikes to ASCII '\''.
// Transcription engines and course authors disagree on which glyph to use.
var apostrophes = strings.NewReplacer(
	"’", "'", // right single quotation mark
	"‘", "'", // left single quotation mark
	"ʼ", "'", // modifier letter apostrophe
	"`", "'", // grave accent
	"´", "'", // acute accent
	"′", "'", // prime
)

// orthographic folds letters that are optional in everyday spelling.
var orthographic = strings.NewReplacer(
	"ё", "е",
)

// Normalizer is the default [Comparator]. Two words are equal when their
// normalised forms match. Normalisation applies, in order:
//
//  1. Unicode NFC composition.
//  2. Apostrophe glyph unification.
//  3. Leading/trailing punctuation removal.
//  4. Language-independent case folding.
//  5. Orthographic folding (ё → е).
//
// Normalizer holds no state and is safe for concurrent use.
type Normalizer struct{}

var _ Comparator = (*Normalizer)(nil)

// NewNormalizer returns a ready-to-use [Normalizer].
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize returns the comparison key for word.
func (n *Normalizer) Normalize(word string) string {
	w := norm.NFC.String(word)
	w = apostrophes.Replace(w)
	w = StripPunctuation(w)
	// A Caser is stateful, so every call gets its own.
	w = cases.Fold().String(w)
	return orthographic.Replace(w)
}

// AreWordsEqual reports whether a and b normalise to the same key. Tokens
// without any letters or digits normalise to "" and only equal themselves.
func (n *Normalizer) AreWordsEqual(a, b string) bool {
	if a == b {
		return true
	}
	ka, kb := n.Normalize(a), n.Normalize(b)
	if ka == "" || kb == "" {
		return false
	}
	return ka == kb
}
