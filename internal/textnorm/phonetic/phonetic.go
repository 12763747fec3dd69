// Package phonetic implements a lenient [textnorm.Comparator] that treats two
// words as equal when they sound alike, not only when they are spelled alike.
//
// Comparison proceeds in three stages, stopping at the first that succeeds:
//
//  1. Normalised equality through the wrapped strict comparator (case,
//     apostrophe glyphs, ё/е and so on).
//  2. Phonetic agreement: the Double Metaphone codes of both words overlap
//     and their Jaro-Winkler similarity reaches the phonetic threshold.
//  3. Pure spelling similarity: Jaro-Winkler alone reaches the (higher)
//     fuzzy threshold.
//
// Very short words are only ever compared strictly, because one-letter
// differences between two- or three-letter words ("a"/"I", "the"/"they") are
// real mistakes that a learner should be told about.
package phonetic

import (
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/elocution/internal/textnorm"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.94
	defaultMinRunes          = 4
)

// Option is a functional option for configuring a [Comparator].
type Option func(*Comparator)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required when the
// Double Metaphone codes of both words overlap. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Comparator) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// words share no phonetic code. Default: 0.94.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Comparator) {
		c.fuzzyThreshold = threshold
	}
}

// WithMinRunes sets the shortest normalised word length (in runes) eligible
// for lenient matching. Shorter words must match strictly. Default: 4.
func WithMinRunes(n int) Option {
	return func(c *Comparator) {
		c.minRunes = n
	}
}

// Comparator is a sound-alike word comparator. All methods are safe for
// concurrent use; the Comparator is read-only after construction.
type Comparator struct {
	strict            *textnorm.Normalizer
	phoneticThreshold float64
	fuzzyThreshold    float64
	minRunes          int
}

var _ textnorm.Comparator = (*Comparator)(nil)

// New returns a [Comparator] configured with the supplied options.
func New(opts ...Option) *Comparator {
	c := &Comparator{
		strict:            textnorm.NewNormalizer(),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minRunes:          defaultMinRunes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AreWordsEqual reports whether a and b are the same word, allowing for
// sound-alike transcription variants.
func (c *Comparator) AreWordsEqual(a, b string) bool {
	if c.strict.AreWordsEqual(a, b) {
		return true
	}
	na, nb := c.strict.Normalize(a), c.strict.Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if utf8.RuneCountInString(na) < c.minRunes || utf8.RuneCountInString(nb) < c.minRunes {
		return false
	}

	score := matchr.JaroWinkler(na, nb, false)
	if codesOverlap(na, nb) {
		return score >= c.phoneticThreshold
	}
	return score >= c.fuzzyThreshold
}

// Similarity returns the Jaro-Winkler similarity of the normalised forms of a
// and b in [0, 1].
func (c *Comparator) Similarity(a, b string) float64 {
	return matchr.JaroWinkler(c.strict.Normalize(a), c.strict.Normalize(b), false)
}

// codesOverlap reports whether any Double Metaphone code (primary or
// alternate) of a equals one of b. Empty codes never match.
func codesOverlap(a, b string) bool {
	pa, sa := matchr.DoubleMetaphone(a)
	pb, sb := matchr.DoubleMetaphone(b)
	for _, x := range []string{pa, sa} {
		if x == "" {
			continue
		}
		if x == pb || x == sb {
			return true
		}
	}
	return false
}
