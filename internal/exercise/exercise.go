// Package exercise runs the exercise completion workflow around the
// pronunciation evaluator: optional transcription of the learner's recording,
// evaluation against the expected sentence, and persistence of per-word
// confidences for learners who scored well enough.
//
// A [Service] is safe for concurrent use. Its scoring settings can be swapped
// at runtime with [Service.Reconfigure] without disturbing in-flight
// attempts.
package exercise

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/store"
	"github.com/MrWong99/elocution/internal/textnorm"
	"github.com/MrWong99/elocution/pkg/provider/stt"
)

var (
	// ErrNotRecognised is returned when the transcription backend found no
	// words in the recording.
	ErrNotRecognised = errors.New("exercise: speech not recognised")

	// ErrNoTranscriber is returned for audio attempts when no STT provider
	// is configured.
	ErrNoTranscriber = errors.New("exercise: no speech-to-text provider configured")

	// ErrInvalidAttempt is returned when an attempt carries both audio and
	// pre-transcribed words.
	ErrInvalidAttempt = errors.New("exercise: attempt must carry either audio or words, not both")
)

// Attempt is one learner submission.
type Attempt struct {
	// UserID identifies the learner. Anonymous attempts are evaluated but
	// never stored.
	UserID string

	ExpectedText string
	Language     string

	// Words are the recognised words when the client transcribed the
	// recording itself.
	Words []evaluation.ActualWord

	// Audio is 16-bit little-endian PCM to transcribe server-side.
	Audio      []byte
	SampleRate int
	Channels   int
}

// Outcome is the result of a completed attempt.
type Outcome struct {
	evaluation.Result

	// Transcript is the text recognised from Audio, empty for word attempts.
	Transcript string

	// Saved reports whether the user pronunciations were stored.
	Saved bool
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithTranscriber sets the STT provider used for audio attempts.
func WithTranscriber(p stt.Provider) Option {
	return func(s *Service) {
		s.transcriber = p
	}
}

// WithStore sets where user pronunciations are persisted.
func WithStore(ps store.PronunciationStore) Option {
	return func(s *Service) {
		s.store = ps
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPreprocessors sets the language registry passed to every evaluator
// the service builds.
func WithPreprocessors(r *textnorm.Registry) Option {
	return func(s *Service) {
		s.preprocessors = r
	}
}

// settings is the hot-reloadable part of a Service.
type settings struct {
	evaluator      *evaluation.Evaluator
	minScoreToSave float64
}

// Service completes exercise attempts.
type Service struct {
	transcriber   stt.Provider
	store         store.PronunciationStore
	metrics       *observe.Metrics
	preprocessors *textnorm.Registry

	current atomic.Pointer[settings]
}

// New returns a [Service] scoring with sc.
func New(sc config.ScoringConfig, opts ...Option) (*Service, error) {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.preprocessors == nil {
		s.preprocessors = textnorm.NewRegistry()
	}
	if err := s.Reconfigure(sc); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure atomically replaces the scoring settings. Attempts already in
// progress finish with the settings they started with.
func (s *Service) Reconfigure(sc config.ScoringConfig) error {
	ev, err := NewEvaluator(sc, s.preprocessors)
	if err != nil {
		return err
	}
	s.current.Store(&settings{evaluator: ev, minScoreToSave: sc.MinScoreToSave})
	return nil
}

// Thresholds returns the band thresholds currently in use.
func (s *Service) Thresholds() evaluation.Thresholds {
	return s.current.Load().evaluator.Thresholds()
}

// Complete runs one attempt through transcription (for audio attempts),
// evaluation and persistence. A storage failure is logged and reported
// through [Outcome.Saved]; the learner still receives the evaluation.
func (s *Service) Complete(ctx context.Context, a Attempt) (*Outcome, error) {
	ctx, span := observe.StartSpan(ctx, "exercise.complete", trace.WithAttributes(
		attribute.String("language", a.Language),
		attribute.Bool("audio", len(a.Audio) > 0),
		attribute.Bool("anonymous", a.UserID == ""),
	))
	defer span.End()

	if len(a.Audio) > 0 && len(a.Words) > 0 {
		return nil, ErrInvalidAttempt
	}

	cur := s.current.Load()
	out := &Outcome{}
	words := a.Words
	if len(a.Audio) > 0 {
		res, err := s.transcribe(ctx, a)
		if err != nil {
			outcome := observe.OutcomeError
			if errors.Is(err, ErrNotRecognised) {
				outcome = observe.OutcomeUnrecognised
			}
			s.metrics.RecordEvaluation(ctx, a.Language, outcome, 0, 0)
			observe.FailSpan(span, err)
			return nil, err
		}
		words = ActualWords(res)
		out.Transcript = res.Text
	}

	start := time.Now()
	out.Result = cur.evaluator.Evaluate(a.ExpectedText, words, a.Language)
	s.metrics.RecordEvaluation(ctx, a.Language, observe.OutcomeScored, time.Since(start), out.ScorePercentage)
	span.SetAttributes(
		attribute.Float64("score", out.ScorePercentage),
		attribute.Int("pairs", len(out.WordPairs)),
	)

	if s.shouldSave(a, out, cur) {
		// History is keyed by primary subtag so "fr", "FR" and "fr-FR"
		// attempts accumulate in one place.
		lang := stt.PrimaryLanguage(a.Language)
		if err := s.store.SavePronunciations(ctx, a.UserID, lang, out.UserPronunciations); err != nil {
			observe.Logger(ctx).Error("exercise: failed to save pronunciations",
				"user_id", a.UserID,
				"language", lang,
				"err", err,
			)
			span.RecordError(err)
		} else {
			out.Saved = true
			s.metrics.PronunciationsSaved.Add(ctx, int64(len(out.UserPronunciations)))
		}
	}
	span.SetAttributes(attribute.Bool("saved", out.Saved))
	return out, nil
}

// WeakestWords lists the words userID struggles with most. language is
// reduced to its primary subtag; an empty language covers all languages.
func (s *Service) WeakestWords(ctx context.Context, userID, language string, limit int) ([]store.WordStat, error) {
	if s.store == nil {
		return []store.WordStat{}, nil
	}
	ctx, span := observe.StartSpan(ctx, "exercise.weakest_words")
	defer span.End()

	stats, err := s.store.WeakestWords(ctx, userID, stt.PrimaryLanguage(language), limit)
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("exercise: weakest words: %w", err)
	}
	return stats, nil
}

func (s *Service) transcribe(ctx context.Context, a Attempt) (*stt.Result, error) {
	if s.transcriber == nil {
		return nil, ErrNoTranscriber
	}
	ctx, span := observe.StartSpan(ctx, "exercise.transcribe", trace.WithAttributes(
		attribute.Int("audio_bytes", len(a.Audio)),
		attribute.Int("sample_rate", a.SampleRate),
	))
	defer span.End()

	res, err := s.transcriber.Transcribe(ctx, stt.Request{
		Audio:      a.Audio,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Language:   a.Language,
	})
	if err != nil {
		observe.FailSpan(span, err)
		return nil, fmt.Errorf("exercise: transcribe: %w", err)
	}
	if res == nil || !res.WasSuccessful {
		return nil, ErrNotRecognised
	}
	span.SetAttributes(attribute.Int("words", len(res.Words)))
	return res, nil
}

func (s *Service) shouldSave(a Attempt, out *Outcome, cur *settings) bool {
	return s.store != nil &&
		a.UserID != "" &&
		len(out.UserPronunciations) > 0 &&
		out.ScorePercentage >= cur.minScoreToSave
}
