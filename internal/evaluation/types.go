package evaluation

import (
	"encoding/json"
	"fmt"
)

// ActualWord is one word recognised by speech-to-text, in temporal order.
// Values are produced by the transcription provider and never modified.
type ActualWord struct {
	Word             string  `json:"word"`
	Confidence       float64 `json:"confidence"`
	StartTimeSeconds float64 `json:"start_time_seconds"`
	EndTimeSeconds   float64 `json:"end_time_seconds"`
}

// IndexPair links the expected word at index Expected with the actual word at
// index Actual. Within an alignment both components are strictly increasing.
type IndexPair struct {
	Expected int
	Actual   int
}

func (p IndexPair) String() string {
	return fmt.Sprintf("[%d,%d]", p.Expected, p.Actual)
}

// Optional holds a value that may be absent. The zero value is absent.
// It encodes to JSON as the bare value or null.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present [Optional] holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent [Optional].
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the held value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Or returns the held value, or fallback when absent.
func (o Optional[T]) Or(fallback T) T {
	if !o.Valid {
		return fallback
	}
	return o.Value
}

// MarshalJSON implements [json.Marshaler].
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// WordPair is one row of the evaluation result: an expected word, the word
// the learner actually said, or both. Expected and Actual are never both
// absent, and the timing fields are present exactly when Actual is.
//
// Confidence is only set for pairs the aligner verified as equal. Words that
// were merely paired up by position carry no confidence.
//
// Build values with [MatchedPair], [PositionalPair], [ExpectedOnly] or
// [ActualOnly].
type WordPair struct {
	Expected               Optional[string]  `json:"expected_word"`
	Actual                 Optional[string]  `json:"actual_word"`
	ActualStartTimeSeconds Optional[float64] `json:"actual_start_time_seconds"`
	ActualEndTimeSeconds   Optional[float64] `json:"actual_end_time_seconds"`
	Confidence             Optional[float64] `json:"confidence"`
}

// MatchedPair returns a pair of two words the aligner judged equal.
func MatchedPair(expected string, actual ActualWord, confidence float64) WordPair {
	p := PositionalPair(expected, actual)
	p.Confidence = Some(confidence)
	return p
}

// PositionalPair returns a pair of two words that occupy the same gap in the
// alignment but were not verified as equal.
func PositionalPair(expected string, actual ActualWord) WordPair {
	p := ActualOnly(actual)
	p.Expected = Some(expected)
	return p
}

// ExpectedOnly returns a pair for an expected word the learner skipped.
func ExpectedOnly(expected string) WordPair {
	return WordPair{Expected: Some(expected)}
}

// ActualOnly returns a pair for a word the learner said that has no
// counterpart in the expected sentence.
func ActualOnly(actual ActualWord) WordPair {
	return WordPair{
		Actual:                 Some(actual.Word),
		ActualStartTimeSeconds: Some(actual.StartTimeSeconds),
		ActualEndTimeSeconds:   Some(actual.EndTimeSeconds),
	}
}

// IsMatched reports whether the pair was verified as equal by the aligner.
func (p WordPair) IsMatched() bool {
	return p.Expected.Valid && p.Actual.Valid && p.Confidence.Valid
}

// UserPronunciation is the per-word confidence remembered for a learner so
// that words they struggle with can be practised again.
type UserPronunciation struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one evaluation.
type Result struct {
	WordPairs          []WordPair          `json:"word_pairs"`
	ScorePercentage    float64             `json:"score_percentage"`
	UserPronunciations []UserPronunciation `json:"user_pronunciations"`
}
