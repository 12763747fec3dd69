package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/health"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/resilience"
	"github.com/MrWong99/elocution/pkg/provider/stt"
	"github.com/MrWong99/elocution/pkg/provider/stt/deepgram"
	"github.com/MrWong99/elocution/pkg/provider/stt/whisper"
	"github.com/MrWong99/elocution/pkg/provider/stt/whisper/native"
)

// RegisterBuiltinProviders wires the STT implementations that ship with the
// service into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if rms, ok := optFloat(entry.Options, "silence_rms"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []native.Option
		if entry.Language != "" {
			opts = append(opts, native.WithLanguage(entry.Language))
		}
		if n, ok := optFloat(entry.Options, "threads"); ok && n > 0 {
			opts = append(opts, native.WithThreads(uint(n)))
		}
		return native.New(entry.Model, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// transcriber is the assembled STT chain plus what the app must manage
// around it.
type transcriber struct {
	provider stt.Provider
	check    *health.Checker
	closers  []func() error
}

// buildTranscriber creates the configured primary and fallback providers,
// instruments each one and joins them behind a circuit-breaking fallback
// chain. It returns a nil provider when no STT backend is configured.
func buildTranscriber(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*transcriber, error) {
	if cfg.STT.Name == "" {
		return &transcriber{}, nil
	}

	t := &transcriber{}
	entries := append([]config.ProviderEntry{cfg.STT}, cfg.STTFallbacks...)
	built := make([]stt.Provider, 0, len(entries))
	for _, entry := range entries {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			t.closers = append(t.closers, c.Close)
		}
		built = append(built, &instrumentedSTT{name: entry.Name, next: p, metrics: m})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	if len(built) == 1 {
		t.provider = built[0]
		return t, nil
	}

	fb := resilience.NewTranscriberFallback(built[0], entries[0].Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordCircuitStateChange(context.Background(), name, from.String(), to.String())
			},
		},
	})
	for i := 1; i < len(built); i++ {
		fb.AddFallback(entries[i].Name, built[i])
	}
	fb.OnServed = func(name string) {
		if name != entries[0].Name {
			slog.Info("stt request served by fallback", "provider", name)
		}
	}
	t.provider = fb
	t.check = &health.Checker{Name: "stt", Check: func(context.Context) error {
		return breakersHealthy(fb.States())
	}}
	return t, nil
}

func (t *transcriber) close() {
	for _, c := range t.closers {
		_ = c()
	}
}

// breakersHealthy fails only when every backend has an open breaker.
func breakersHealthy(states map[string]resilience.State) error {
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all stt circuit breakers are open")
}

// instrumentedSTT records latency and outcome metrics for one named backend.
type instrumentedSTT struct {
	name    string
	next    stt.Provider
	metrics *observe.Metrics
}

func (p *instrumentedSTT) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	start := time.Now()
	res, err := p.next.Transcribe(ctx, req)
	p.metrics.RecordTranscription(ctx, p.name, time.Since(start), err)
	return res, err
}

// optFloat reads a numeric provider option. YAML decodes integers as int
// and decimals as float64; numeric strings from env expansion are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
