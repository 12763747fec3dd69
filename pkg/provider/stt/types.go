package stt

import (
	"strings"
	"time"
)

// Result is the outcome of one Transcribe call.
type Result struct {
	// WasSuccessful reports whether the backend produced any words.
	WasSuccessful bool

	// Text is the full transcript as returned by the backend.
	Text string

	// Words holds per-word detail in temporal order.
	Words []Word
}

// Word holds per-word metadata.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// NewResult builds a Result from words. WasSuccessful is true when at least
// one word was recognised. If text is empty it is reconstructed from words.
func NewResult(text string, words []Word) *Result {
	if text == "" && len(words) > 0 {
		parts := make([]string, len(words))
		for i, w := range words {
			parts[i] = w.Word
		}
		text = strings.Join(parts, " ")
	}
	return &Result{
		WasSuccessful: len(words) > 0,
		Text:          strings.TrimSpace(text),
		Words:         words,
	}
}

// Failed returns an unsuccessful Result.
func Failed() *Result {
	return &Result{}
}

// Seconds converts fractional seconds, as reported by most STT JSON APIs, to
// a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
