package evaluation

import (
	"errors"
	"fmt"
	"math"
)

// Default confidence band boundaries, in percent.
const (
	DefaultExcellentThreshold = 80.0
	DefaultMediocreThreshold  = 60.0
)

// Per-pair weights of the confidence bands.
const (
	weightExcellent = 1.0
	weightMediocre  = 0.6666666
	weightPoor      = 0.3333333
)

// Band is the discrete tier a word's confidence falls into.
type Band int

const (
	// BandNone means the pair has no verified confidence: the word was
	// missing, inserted, or said differently.
	BandNone Band = iota
	BandPoor
	BandMediocre
	BandExcellent
)

// String returns the lower-case name of the band.
func (b Band) String() string {
	switch b {
	case BandNone:
		return "none"
	case BandPoor:
		return "poor"
	case BandMediocre:
		return "mediocre"
	case BandExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// weight returns the contribution of one pair in this band to the score.
func (b Band) weight() float64 {
	switch b {
	case BandExcellent:
		return weightExcellent
	case BandMediocre:
		return weightMediocre
	case BandPoor:
		return weightPoor
	default:
		return 0
	}
}

// Thresholds are the lower bounds, in percent, of the excellent and mediocre
// confidence bands.
type Thresholds struct {
	Excellent float64 `yaml:"excellent_threshold" json:"excellent_threshold"`
	Mediocre  float64 `yaml:"mediocre_threshold" json:"mediocre_threshold"`
}

// DefaultThresholds returns the built-in band boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent: DefaultExcellentThreshold,
		Mediocre:  DefaultMediocreThreshold,
	}
}

// ErrInvalidThresholds is returned by [Thresholds.Validate].
var ErrInvalidThresholds = errors.New("evaluation: invalid thresholds")

// Validate checks 0 <= Mediocre <= Excellent <= 100.
func (t Thresholds) Validate() error {
	if t.Mediocre < 0 || t.Excellent > 100 || t.Mediocre > t.Excellent {
		return fmt.Errorf("%w: need 0 <= mediocre (%g) <= excellent (%g) <= 100",
			ErrInvalidThresholds, t.Mediocre, t.Excellent)
	}
	return nil
}

// Band classifies a confidence in [0, 1].
func (t Thresholds) Band(confidence Optional[float64]) Band {
	c, ok := confidence.Get()
	if !ok {
		return BandNone
	}
	pct := c * 100
	switch {
	case pct >= t.Excellent:
		return BandExcellent
	case pct >= t.Mediocre:
		return BandMediocre
	default:
		return BandPoor
	}
}

// Score returns the pronunciation score of pairs as a percentage rounded to
// two decimals: the mean band weight across all pairs, times 100.
//
// An empty pair list scores 0.
func (t Thresholds) Score(pairs []WordPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pairs {
		sum += t.Band(p.Confidence).weight()
	}
	return round2(sum / float64(len(pairs)) * 100)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
