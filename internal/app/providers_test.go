package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/resilience"
	"github.com/MrWong99/elocution/pkg/provider/stt"
	sttmock "github.com/MrWong99/elocution/pkg/provider/stt/mock"
)

// closingSTT is a mock provider that also implements io.Closer.
type closingSTT struct {
	sttmock.Provider
	closed int
}

func (c *closingSTT) Close() error {
	c.closed++
	return nil
}

func stubRegistry(providers map[string]stt.Provider) *config.Registry {
	reg := config.NewRegistry()
	for name, p := range providers {
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) { return p, nil })
	}
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, errors.New("bad credentials")
	})
	return reg
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func requestsByProvider(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "elocution.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				out[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	want := slices.Clone(config.ValidProviderNames)
	slices.Sort(want)
	if got := reg.STTNames(); !slices.Equal(got, want) {
		t.Errorf("STTNames = %v, want %v", got, want)
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil {
		t.Error("deepgram without api key: expected error")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without base url: expected error")
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper-native"}); err == nil {
		t.Error("whisper-native without model path: expected error")
	}

	p, err := reg.CreateSTT(config.ProviderEntry{
		Name:     "whisper",
		BaseURL:  "http://localhost:9000",
		Language: "fr",
		Options:  map[string]any{"silence_rms": 0.02},
	})
	if err != nil || p == nil {
		t.Errorf("whisper: %v, %v", p, err)
	}
	p, err = reg.CreateSTT(config.ProviderEntry{Name: "deepgram", APIKey: "k", Model: "nova-3", Language: "fr"})
	if err != nil || p == nil {
		t.Errorf("deepgram: %v, %v", p, err)
	}
}

func TestBuildTranscriber_NotConfigured(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)

	tr, err := buildTranscriber(config.ProvidersConfig{}, stubRegistry(nil), m)
	if err != nil {
		t.Fatalf("buildTranscriber: %v", err)
	}
	if tr.provider != nil || tr.check != nil || len(tr.closers) != 0 {
		t.Errorf("transcriber = %+v, want empty", tr)
	}
}

func TestBuildTranscriber_Single(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	primary := &closingSTT{Provider: sttmock.Provider{Result: stt.NewResult("hi", []stt.Word{{Word: "hi", Confidence: 1}})}}

	tr, err := buildTranscriber(config.ProvidersConfig{STT: config.ProviderEntry{Name: "primary"}},
		stubRegistry(map[string]stt.Provider{"primary": primary}), m)
	if err != nil {
		t.Fatalf("buildTranscriber: %v", err)
	}
	if _, ok := tr.provider.(*instrumentedSTT); !ok {
		t.Fatalf("provider = %T, want *instrumentedSTT", tr.provider)
	}
	if tr.check != nil {
		t.Error("single provider should not register a breaker check")
	}

	if _, err := tr.provider.Transcribe(context.Background(), stt.Request{Audio: []byte{0, 0}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := requestsByProvider(t, reader)["primary/ok"]; got != 1 {
		t.Errorf("primary/ok requests = %d, want 1", got)
	}

	tr.close()
	if primary.closed != 1 {
		t.Errorf("Close calls = %d, want 1", primary.closed)
	}
}

func TestBuildTranscriber_Fallback(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	primary := &sttmock.Provider{TranscribeErr: errors.New("503")}
	backup := &sttmock.Provider{Result: stt.NewResult("", []stt.Word{{Word: "ok", Confidence: 1}})}

	tr, err := buildTranscriber(config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "primary"},
		STTFallbacks: []config.ProviderEntry{{Name: "backup"}},
	}, stubRegistry(map[string]stt.Provider{"primary": primary, "backup": backup}), m)
	if err != nil {
		t.Fatalf("buildTranscriber: %v", err)
	}
	if _, ok := tr.provider.(*resilience.TranscriberFallback); !ok {
		t.Fatalf("provider = %T, want *resilience.TranscriberFallback", tr.provider)
	}

	res, err := tr.provider.Transcribe(context.Background(), stt.Request{Audio: []byte{0, 0}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q, want served by backup", res.Text)
	}

	got := requestsByProvider(t, reader)
	if got["primary/error"] != 1 || got["backup/ok"] != 1 {
		t.Errorf("requests = %v", got)
	}
	if tr.check == nil {
		t.Fatal("fallback chain should register a breaker check")
	}
	if err := tr.check.Check(context.Background()); err != nil {
		t.Errorf("check with closed breakers: %v", err)
	}
}

func TestBuildTranscriber_FactoryError(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	primary := &closingSTT{}

	_, err := buildTranscriber(config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "primary"},
		STTFallbacks: []config.ProviderEntry{{Name: "broken"}},
	}, stubRegistry(map[string]stt.Provider{"primary": primary}), m)
	if err == nil {
		t.Fatal("expected error from broken factory")
	}
	if primary.closed != 1 {
		t.Errorf("already-built provider closed %d times, want 1", primary.closed)
	}
}

func TestBreakersHealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		states  map[string]resilience.State
		wantErr bool
	}{
		{"all closed", map[string]resilience.State{"a": resilience.StateClosed, "b": resilience.StateClosed}, false},
		{"one open", map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateClosed}, false},
		{"half open", map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateHalfOpen}, false},
		{"all open", map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateOpen}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := breakersHealthy(tt.states); (err != nil) != tt.wantErr {
				t.Errorf("breakersHealthy = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptFloat(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"int": 4, "float": 0.5, "str": "2.5", "bad": "x", "bool": true}
	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{"int", 4, true},
		{"float", 0.5, true},
		{"str", 2.5, true},
		{"bad", 0, false},
		{"bool", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := optFloat(opts, tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("optFloat(%q) = %v, %v; want %v, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
	if _, ok := optFloat(nil, "x"); ok {
		t.Error("optFloat(nil) reported ok")
	}
}
