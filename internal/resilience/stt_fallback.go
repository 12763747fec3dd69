package resilience

import (
	"context"

	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
//
// Only errors trigger failover. A backend that answers with an unsuccessful
// Result (nothing recognised) is trusted, because asking another backend to
// find words in silence tends to produce hallucinations.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]

	// OnServed, if set, is called with the name of the backend that produced
	// each successful result.
	OnServed func(name string)
}

// Compile-time interface assertion.
var _ stt.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *TranscriberFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every backend.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Transcribe sends req to the first healthy backend, moving on to the next
// one when a backend returns an error.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	res, name, err := Do(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if f.OnServed != nil {
		f.OnServed(name)
	}
	return res, nil
}
