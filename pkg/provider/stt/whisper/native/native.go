// Package native implements stt.Provider with in-process inference through
// the whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// Word confidences are the mean probability of the BPE tokens making up each
// word, so token timestamps are always enabled.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// sampleRate is the only rate whisper.cpp models accept.
const sampleRate = 16000

const defaultLanguage = "en"

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// whisper.cpp default.
func WithThreads(n uint) Option {
	return func(p *Provider) { p.threads = n }
}

// Provider implements stt.Provider using whisper.cpp Go bindings, without
// any HTTP hop. The model is loaded once and shared; every Transcribe call
// creates its own inference context, so calls may run concurrently.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("native: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("native: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp on req.Audio. Only 16 kHz input is accepted;
// multi-channel audio is down-mixed to mono.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	if req.SampleRate != 0 && req.SampleRate != sampleRate {
		return nil, fmt.Errorf("native: unsupported sample rate %d, whisper.cpp requires %d", req.SampleRate, sampleRate)
	}
	samples := toMonoFloat32(req.Audio, req.Channels)
	if len(samples) == 0 {
		return stt.Failed(), nil
	}

	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("native: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	lang = stt.PrimaryLanguage(lang)
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("native: failed to set language, using default", "language", lang, "error", err)
	}
	wctx.SetTokenTimestamps(true)
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("native: process audio: %w", err)
	}

	var (
		tokens []token
		texts  []string
	)
	for {
		// whisper.cpp cannot be interrupted mid-encode, so cancellation is
		// only observed between segments.
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("native: %w", err)
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("native: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			texts = append(texts, text)
		}
		for _, tk := range segment.Tokens {
			if !wctx.IsText(tk) {
				continue
			}
			tokens = append(tokens, token{text: tk.Text, p: tk.P, start: tk.Start, end: tk.End})
		}
	}

	return stt.NewResult(strings.Join(texts, " "), groupWords(tokens)), nil
}
