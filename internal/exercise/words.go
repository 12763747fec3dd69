package exercise

import (
	"fmt"

	"github.com/MrWong99/elocution/internal/config"
	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/textnorm"
	"github.com/MrWong99/elocution/internal/textnorm/phonetic"
	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// ActualWords converts a transcription into evaluator input. A nil or
// unsuccessful result yields an empty, non-nil slice.
func ActualWords(res *stt.Result) []evaluation.ActualWord {
	if res == nil {
		return []evaluation.ActualWord{}
	}
	out := make([]evaluation.ActualWord, len(res.Words))
	for i, w := range res.Words {
		out[i] = evaluation.ActualWord{
			Word:             w.Word,
			Confidence:       w.Confidence,
			StartTimeSeconds: w.Start.Seconds(),
			EndTimeSeconds:   w.End.Seconds(),
		}
	}
	return out
}

// NewEvaluator builds an evaluator for the scoring section of the config.
func NewEvaluator(sc config.ScoringConfig, preprocessors *textnorm.Registry) (*evaluation.Evaluator, error) {
	var cmp textnorm.Comparator
	switch sc.Comparator {
	case config.ComparatorPhonetic:
		cmp = phonetic.New(phonetic.WithPhoneticThreshold(sc.PhoneticThreshold))
	case config.ComparatorStrict, "":
		cmp = textnorm.NewNormalizer()
	default:
		return nil, fmt.Errorf("exercise: unknown comparator %q", sc.Comparator)
	}

	opts := []evaluation.Option{
		evaluation.WithComparator(cmp),
		evaluation.WithThresholds(sc.Thresholds()),
	}
	if preprocessors != nil {
		opts = append(opts, evaluation.WithPreprocessors(preprocessors))
	}
	ev, err := evaluation.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("exercise: build evaluator: %w", err)
	}
	return ev, nil
}
