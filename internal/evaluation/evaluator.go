// Package evaluation scores how well a learner pronounced a target sentence.
//
// Given the sentence the learner was asked to say and the words a
// speech-to-text engine recognised in their recording, an [Evaluator]:
//
//  1. Applies the language's reversible [textnorm.Preprocessor] to the
//     expected sentence and splits it on white space.
//  2. Aligns expected and recognised words with a longest-common-subsequence
//     matcher ([AlignIndices]) that uses a [textnorm.Comparator] instead of
//     strict equality.
//  3. Expands the sparse alignment into a complete list of [WordPair] values
//     for highlighting ([BuildPairs]), restoring the display form of every
//     expected word.
//  4. Scores the pairs by confidence band ([Thresholds.Score]) and derives
//     the per-word confidences to remember for the learner
//     ([ExtractPronunciations]).
//
// The package performs no I/O and holds no shared mutable state. An
// [Evaluator] is safe for concurrent use.
package evaluation

import (
	"github.com/MrWong99/elocution/internal/textnorm"
)

// Option is a functional option for configuring an [Evaluator].
type Option func(*Evaluator)

// WithComparator sets the word equality predicate used during alignment.
// Default: [textnorm.NewNormalizer].
func WithComparator(c textnorm.Comparator) Option {
	return func(e *Evaluator) {
		e.cmp = c
	}
}

// WithPreprocessors sets the language registry used to look up the
// preprocessor for each evaluation. Default: [textnorm.NewRegistry].
func WithPreprocessors(r *textnorm.Registry) Option {
	return func(e *Evaluator) {
		e.preprocessors = r
	}
}

// WithThresholds sets the confidence band boundaries.
// Default: [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(e *Evaluator) {
		e.thresholds = t
	}
}

// Evaluator runs the alignment and scoring pipeline. It is read-only after
// construction.
type Evaluator struct {
	cmp           textnorm.Comparator
	preprocessors *textnorm.Registry
	thresholds    Thresholds
}

// New returns an [Evaluator] configured with the supplied options. It fails
// only when the configured thresholds are invalid.
func New(opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		thresholds: DefaultThresholds(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.cmp == nil {
		e.cmp = textnorm.NewNormalizer()
	}
	if e.preprocessors == nil {
		e.preprocessors = textnorm.NewRegistry()
	}
	if err := e.thresholds.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Thresholds returns the band boundaries this evaluator scores with.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate aligns actual against expectedText and scores the result.
// languageCode selects the text preprocessor; unknown codes use none.
//
// Evaluate never fails: extra, missing, and badly pronounced words are all
// reported through the returned pairs and score.
func (e *Evaluator) Evaluate(expectedText string, actual []ActualWord, languageCode string) Result {
	pre := e.preprocessors.For(languageCode)
	expected := textnorm.SplitByWhitespace(pre.Preprocess(expectedText))

	recognised := make([]string, len(actual))
	for k, w := range actual {
		recognised[k] = w.Word
	}

	matches := AlignIndices(expected, recognised, e.cmp)
	pairs := BuildPairs(expected, actual, matches, pre.RevertWord)

	return Result{
		WordPairs:          pairs,
		ScorePercentage:    e.thresholds.Score(pairs),
		UserPronunciations: ExtractPronunciations(pairs),
	}
}
