package exercise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/store"
	storemock "github.com/MrWong99/elocution/internal/store/mock"
	"github.com/MrWong99/elocution/pkg/provider/stt"
	sttmock "github.com/MrWong99/elocution/pkg/provider/stt/mock"
)

func scoring() config.ScoringConfig {
	return config.ScoringConfig{
		ExcellentThreshold: 80,
		MediocreThreshold:  60,
		MinScoreToSave:     50,
		Comparator:         config.ComparatorStrict,
		PhoneticThreshold:  config.DefaultPhoneticThreshold,
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
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

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func threeWords() []evaluation.ActualWord {
	return []evaluation.ActualWord{
		{Word: "the", Confidence: 0.9},
		{Word: "quick", Confidence: 0.7},
		{Word: "fox", Confidence: 0.2},
	}
}

func TestComplete_WordsAttempt(t *testing.T) {
	t.Parallel()
	ps := &storemock.PronunciationStore{}
	m, reader := newTestMetrics(t)
	svc, err := New(scoring(), WithStore(ps), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := svc.Complete(context.Background(), Attempt{
		UserID:       "u1",
		ExpectedText: "The quick fox.",
		Language:     "en",
		Words:        threeWords(),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.ScorePercentage != 66.67 {
		t.Errorf("ScorePercentage = %v, want 66.67", out.ScorePercentage)
	}
	if len(out.WordPairs) != 3 {
		t.Errorf("len(WordPairs) = %d, want 3", len(out.WordPairs))
	}
	if !out.Saved {
		t.Error("Saved = false, want true")
	}
	if out.Transcript != "" {
		t.Errorf("Transcript = %q, want empty for word attempts", out.Transcript)
	}

	saves := ps.Saves()
	if len(saves) != 1 {
		t.Fatalf("save calls = %d, want 1", len(saves))
	}
	if saves[0].UserID != "u1" || saves[0].Language != "en" {
		t.Errorf("save call = %+v", saves[0])
	}
	if len(saves[0].Pronunciations) != len(out.UserPronunciations) {
		t.Errorf("saved %d pronunciations, result has %d", len(saves[0].Pronunciations), len(out.UserPronunciations))
	}
	if got := counterTotal(t, reader, "elocution.evaluations"); got != 1 {
		t.Errorf("evaluations = %d, want 1", got)
	}
	if got := counterTotal(t, reader, "elocution.pronunciations.saved"); got != int64(len(out.UserPronunciations)) {
		t.Errorf("pronunciations.saved = %d, want %d", got, len(out.UserPronunciations))
	}
}

func TestComplete_SavesUnderPrimaryLanguage(t *testing.T) {
	t.Parallel()

	for _, lang := range []string{"fr", "FR", "fr-FR", "fr_CA"} {
		t.Run(lang, func(t *testing.T) {
			t.Parallel()
			ps := &storemock.PronunciationStore{}
			svc, err := New(scoring(), WithStore(ps), WithMetrics(observe.DefaultMetrics()))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := svc.Complete(context.Background(), Attempt{
				UserID:       "u1",
				ExpectedText: "The quick fox.",
				Language:     lang,
				Words:        threeWords(),
			}); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			saves := ps.Saves()
			if len(saves) != 1 || saves[0].Language != "fr" {
				t.Errorf("saves = %+v, want one save under %q", saves, "fr")
			}
		})
	}
}

func TestComplete_SaveConditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		userID   string
		minScore float64
		words    []evaluation.ActualWord
		want     bool
	}{
		{name: "anonymous", userID: "", minScore: 0, words: threeWords(), want: false},
		{name: "below minimum", userID: "u", minScore: 70, words: threeWords(), want: false},
		{name: "exactly minimum", userID: "u", minScore: 66.67, words: threeWords(), want: true},
		{name: "missed words are recorded", userID: "u", minScore: 0, words: nil, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ps := &storemock.PronunciationStore{}
			m, _ := newTestMetrics(t)
			sc := scoring()
			sc.MinScoreToSave = tt.minScore
			svc, err := New(sc, WithStore(ps), WithMetrics(m))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			out, err := svc.Complete(context.Background(), Attempt{
				UserID:       tt.userID,
				ExpectedText: "the quick fox",
				Language:     "en",
				Words:        tt.words,
			})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if out.Saved != tt.want {
				t.Errorf("Saved = %v, want %v", out.Saved, tt.want)
			}
			if got := len(ps.Saves()) > 0; got != tt.want {
				t.Errorf("store called = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComplete_EmptyExpectedTextNotSaved(t *testing.T) {
	t.Parallel()
	ps := &storemock.PronunciationStore{}
	sc := scoring()
	sc.MinScoreToSave = 0
	svc, err := New(sc, WithStore(ps), WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := svc.Complete(context.Background(), Attempt{UserID: "u", ExpectedText: "  ", Language: "en"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.ScorePercentage != 0 || len(out.WordPairs) != 0 || out.Saved {
		t.Errorf("outcome = %+v, want empty unsaved result", out)
	}
	if len(ps.Saves()) != 0 {
		t.Error("store called for an attempt without pronunciations")
	}
}

func TestComplete_StoreFailureStillReturnsResult(t *testing.T) {
	t.Parallel()
	ps := &storemock.PronunciationStore{SaveErr: errors.New("db down")}
	m, reader := newTestMetrics(t)
	svc, err := New(scoring(), WithStore(ps), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := svc.Complete(context.Background(), Attempt{
		UserID:       "u1",
		ExpectedText: "the quick fox",
		Language:     "en",
		Words:        threeWords(),
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Saved {
		t.Error("Saved = true after store failure")
	}
	if out.ScorePercentage != 66.67 {
		t.Errorf("ScorePercentage = %v", out.ScorePercentage)
	}
	if got := counterTotal(t, reader, "elocution.pronunciations.saved"); got != 0 {
		t.Errorf("pronunciations.saved = %d, want 0", got)
	}
}

func TestComplete_AudioAttempt(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Result: stt.NewResult("", []stt.Word{
		{Word: "bonjour", Confidence: 0.95, Start: 100 * time.Millisecond, End: 600 * time.Millisecond},
		{Word: "monde", Confidence: 0.85, Start: 700 * time.Millisecond, End: 1200 * time.Millisecond},
	})}
	m, _ := newTestMetrics(t)
	svc, err := New(scoring(), WithTranscriber(p), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := svc.Complete(context.Background(), Attempt{
		UserID:       "u1",
		ExpectedText: "Bonjour, monde !",
		Language:     "fr",
		Audio:        []byte{1, 2, 3, 4},
		SampleRate:   16000,
		Channels:     1,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Transcript != "bonjour monde" {
		t.Errorf("Transcript = %q", out.Transcript)
	}
	if out.ScorePercentage != 100 {
		t.Errorf("ScorePercentage = %v, want 100", out.ScorePercentage)
	}
	if out.Saved {
		t.Error("Saved = true without a store")
	}

	if p.CallCount() != 1 {
		t.Fatalf("Transcribe calls = %d, want 1", p.CallCount())
	}
	req := p.TranscribeCalls[0].Req
	if req.SampleRate != 16000 || req.Channels != 1 || req.Language != "fr" || len(req.Audio) != 4 {
		t.Errorf("forwarded request = %+v", req)
	}
}

func TestComplete_AudioErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("provider exploded")

	tests := []struct {
		name        string
		transcriber stt.Provider
		wantErr     error
		wantOutcome string
	}{
		{name: "no transcriber", transcriber: nil, wantErr: ErrNoTranscriber, wantOutcome: observe.OutcomeError},
		{name: "not recognised", transcriber: &sttmock.Provider{}, wantErr: ErrNotRecognised, wantOutcome: observe.OutcomeUnrecognised},
		{name: "provider error", transcriber: &sttmock.Provider{TranscribeErr: boom}, wantErr: boom, wantOutcome: observe.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			opts := []Option{WithMetrics(m)}
			if tt.transcriber != nil {
				opts = append(opts, WithTranscriber(tt.transcriber))
			}
			svc, err := New(scoring(), opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = svc.Complete(context.Background(), Attempt{
				ExpectedText: "hello",
				Language:     "en",
				Audio:        []byte{0, 0},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			found := false
			for _, sm := range rm.ScopeMetrics {
				for _, met := range sm.Metrics {
					if met.Name != "elocution.evaluations" {
						continue
					}
					for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
						if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == tt.wantOutcome {
							found = true
						}
					}
				}
			}
			if !found {
				t.Errorf("no evaluations data point with outcome %q", tt.wantOutcome)
			}
		})
	}
}

func TestComplete_AudioAndWords(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{}
	svc, err := New(scoring(), WithTranscriber(p), WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = svc.Complete(context.Background(), Attempt{
		ExpectedText: "hello",
		Words:        []evaluation.ActualWord{{Word: "hello", Confidence: 1}},
		Audio:        []byte{1},
	})
	if !errors.Is(err, ErrInvalidAttempt) {
		t.Fatalf("err = %v, want ErrInvalidAttempt", err)
	}
	if p.CallCount() != 0 {
		t.Error("transcriber called for an invalid attempt")
	}
}

func TestReconfigure(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)
	svc, err := New(scoring(), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	attempt := Attempt{
		ExpectedText: "the quick fox",
		Language:     "en",
		Words:        threeWords(),
	}

	before, err := svc.Complete(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	sc := scoring()
	sc.ExcellentThreshold = 10
	sc.MediocreThreshold = 5
	if err := svc.Reconfigure(sc); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if got := svc.Thresholds(); got.Excellent != 10 || got.Mediocre != 5 {
		t.Errorf("Thresholds = %+v", got)
	}

	after, err := svc.Complete(context.Background(), attempt)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if after.ScorePercentage != 100 {
		t.Errorf("score after lowering thresholds = %v, want 100", after.ScorePercentage)
	}
	if before.ScorePercentage == after.ScorePercentage {
		t.Error("Reconfigure had no effect")
	}

	bad := scoring()
	bad.MediocreThreshold = 90
	if err := svc.Reconfigure(bad); !errors.Is(err, evaluation.ErrInvalidThresholds) {
		t.Errorf("Reconfigure(bad) err = %v, want ErrInvalidThresholds", err)
	}
	if got := svc.Thresholds(); got.Excellent != 10 {
		t.Error("failed Reconfigure replaced the active settings")
	}
}

func TestReconfigure_Concurrent(t *testing.T) {
	t.Parallel()
	svc, err := New(scoring(), WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					_ = svc.Reconfigure(scoring())
					continue
				}
				if _, err := svc.Complete(context.Background(), Attempt{
					ExpectedText: "the quick fox",
					Words:        threeWords(),
				}); err != nil {
					t.Errorf("Complete: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestWeakestWords(t *testing.T) {
	t.Parallel()

	t.Run("no store", func(t *testing.T) {
		t.Parallel()
		svc, err := New(scoring(), WithMetrics(observe.DefaultMetrics()))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := svc.WeakestWords(context.Background(), "u", "fr", 10)
		if err != nil || got == nil || len(got) != 0 {
			t.Errorf("WeakestWords = %v, %v; want empty", got, err)
		}
	})

	t.Run("regional language", func(t *testing.T) {
		t.Parallel()
		ps := &storemock.PronunciationStore{Weakest: []store.WordStat{
			{Word: "grenouille", Language: "fr"},
			{Word: "squirrel", Language: "en"},
		}}
		svc, err := New(scoring(), WithStore(ps), WithMetrics(observe.DefaultMetrics()))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, err := svc.WeakestWords(context.Background(), "u", "fr-FR", 10)
		if err != nil || len(got) != 1 || got[0].Word != "grenouille" {
			t.Errorf("WeakestWords = %v, %v; want the fr row", got, err)
		}
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		svc, err := New(scoring(), WithStore(&storemock.PronunciationStore{WeakestErr: boom}), WithMetrics(observe.DefaultMetrics()))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := svc.WeakestWords(context.Background(), "u", "fr", 10); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})
}
