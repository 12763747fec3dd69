// Package store defines the persistence contracts of the exercise workflow:
// long-term per-word pronunciation history and short-lived idempotency keys.
//
// Implementations live in the postgres (pronunciation history), redis
// (idempotency) and mock sub-packages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/elocution/internal/evaluation"
)

// ErrDuplicate is returned by [IdempotencyGuard.Claim] when the key has
// already been claimed and has not yet expired.
var ErrDuplicate = errors.New("store: duplicate submission")

// WordStat is the accumulated pronunciation history of one word for one user
// in one language.
type WordStat struct {
	// Word is the normalised comparison key.
	Word string `json:"word"`

	// Display is the spelling used in the most recent attempt.
	Display string `json:"display"`

	Language          string    `json:"language"`
	Attempts          int       `json:"attempts"`
	AverageConfidence float64   `json:"average_confidence"`
	LastConfidence    float64   `json:"last_confidence"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PronunciationStore remembers how well each user pronounces each word.
// Implementations must be safe for concurrent use.
type PronunciationStore interface {
	// SavePronunciations folds one attempt's per-word confidences into the
	// user's running averages. Words that normalise to the empty string are
	// skipped.
	SavePronunciations(ctx context.Context, userID, language string, ps []evaluation.UserPronunciation) error

	// WeakestWords returns up to limit words of userID ordered by ascending
	// average confidence. An empty language matches all languages.
	WeakestWords(ctx context.Context, userID, language string, limit int) ([]WordStat, error)
}

// IdempotencyGuard rejects repeated submissions of the same request.
// Implementations must be safe for concurrent use.
type IdempotencyGuard interface {
	// Claim records key for ttl. It returns [ErrDuplicate] when key is
	// already held.
	Claim(ctx context.Context, key string, ttl time.Duration) error

	// Release forgets key so that a failed request can be retried.
	Release(ctx context.Context, key string) error
}
