// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram or a local
// whisper.cpp model) and exposes a uniform batch interface: one recorded
// pronunciation attempt goes in, one Result with per-word confidence comes
// out. The word-level confidences are what the pronunciation evaluator scores,
// so providers that cannot report them are of limited use here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrTranscriptionFailed is wrapped by providers when the backend answered
// but could not produce a usable transcript (e.g. the recording was silent).
// Callers may turn it into a Result with WasSuccessful == false.
var ErrTranscriptionFailed = errors.New("stt: transcription failed")

// Request describes a single recorded utterance to transcribe.
type Request struct {
	// Audio is raw 16-bit signed little-endian PCM.
	Audio []byte

	// SampleRate is the audio sample rate in Hz. Zero selects the provider
	// default (usually 16000).
	SampleRate int

	// Channels is the number of interleaved audio channels. Zero means mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "fr"). An empty string selects the provider default.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in req and returns the recognised
	// words in temporal order.
	//
	// A nil error with Result.WasSuccessful == false means the backend was
	// reachable but recognised nothing. A non-nil error means the backend
	// could not be used at all and another provider may be tried.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// PrimaryLanguage reduces a language tag to its lower-case primary subtag:
// "fr-FR", "FR" and "fr_CA" all become "fr". Whisper models only know primary
// subtags.
func PrimaryLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
