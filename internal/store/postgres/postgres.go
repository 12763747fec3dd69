// Package postgres implements [store.PronunciationStore] on PostgreSQL using
// pgx. Each (user, language, word) row keeps a running average of the
// confidence the learner achieved on that word.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/store"
	"github.com/MrWong99/elocution/internal/textnorm"
)

// Schema is the SQL DDL for the user_pronunciations table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS user_pronunciations (
    user_id            TEXT NOT NULL,
    language           TEXT NOT NULL,
    word               TEXT NOT NULL,
    display            TEXT NOT NULL,
    attempts           INTEGER NOT NULL DEFAULT 0,
    average_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, language, word)
);
CREATE INDEX IF NOT EXISTS idx_user_pronunciations_weakest
    ON user_pronunciations(user_id, language, average_confidence);
`

const upsertSQL = `
	INSERT INTO user_pronunciations
		(user_id, language, word, display, attempts, average_confidence, last_confidence, updated_at)
	VALUES ($1, $2, $3, $4, 1, $5, $5, now())
	ON CONFLICT (user_id, language, word) DO UPDATE SET
		display            = EXCLUDED.display,
		average_confidence = (user_pronunciations.average_confidence * user_pronunciations.attempts
		                      + EXCLUDED.last_confidence) / (user_pronunciations.attempts + 1),
		attempts           = user_pronunciations.attempts + 1,
		last_confidence    = EXCLUDED.last_confidence,
		updated_at         = now()`

const weakestSQL = `
	SELECT word, display, language, attempts, average_confidence, last_confidence, updated_at
	FROM user_pronunciations
	WHERE user_id = $1 AND ($2 = '' OR language = $2)
	ORDER BY average_confidence ASC, attempts DESC, word ASC
	LIMIT $3`

// DefaultLimit is used by [Store.WeakestWords] when limit is not positive.
const DefaultLimit = 20

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a [store.PronunciationStore] backed by PostgreSQL.
// All operations are safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
	norm *textnorm.Normalizer
}

var _ store.PronunciationStore = (*Store)(nil)

// New creates a [Store] on top of an existing connection or pool. The caller
// is responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db, norm: textnorm.NewNormalizer()}
}

// Open connects to the database at dsn, verifies connectivity and applies
// [Schema]. Call [Store.Close] to release the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	s := New(pool)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Ping verifies that the pool can reach the database. Stores created with
// [New] report healthy without a round trip.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the connection pool opened by [Open].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SavePronunciations implements [store.PronunciationStore]. All upserts of
// one attempt are sent as a single batch; a word repeated within the attempt
// counts once per occurrence.
func (s *Store) SavePronunciations(ctx context.Context, userID, language string, ps []evaluation.UserPronunciation) error {
	batch := &pgx.Batch{}
	for _, p := range ps {
		key := s.norm.Normalize(p.Word)
		if key == "" {
			continue
		}
		batch.Queue(upsertSQL, userID, language, key, textnorm.StripPunctuation(p.Word), p.Confidence)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := s.db.SendBatch(ctx, batch)
	for i := range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres store: save pronunciation %d for user %q: %w", i, userID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres store: save pronunciations for user %q: %w", userID, err)
	}
	return nil
}

// WeakestWords implements [store.PronunciationStore].
func (s *Store) WeakestWords(ctx context.Context, userID, language string, limit int) ([]store.WordStat, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.Query(ctx, weakestSQL, userID, language, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: weakest words for user %q: %w", userID, err)
	}
	stats, err := pgx.CollectRows(rows, scanWordStat)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan weakest words: %w", err)
	}
	return stats, nil
}

func scanWordStat(row pgx.CollectableRow) (store.WordStat, error) {
	var (
		ws       store.WordStat
		attempts int32
		updated  time.Time
	)
	err := row.Scan(&ws.Word, &ws.Display, &ws.Language, &attempts,
		&ws.AverageConfidence, &ws.LastConfidence, &updated)
	ws.Attempts = int(attempts)
	ws.UpdatedAt = updated
	return ws, err
}
