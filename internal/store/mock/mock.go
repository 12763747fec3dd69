// Package mock provides in-memory test doubles for the store interfaces.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/store"
)

// SaveCall records one [PronunciationStore.SavePronunciations] invocation.
type SaveCall struct {
	UserID         string
	Language       string
	Pronunciations []evaluation.UserPronunciation
}

// PronunciationStore is a mock [store.PronunciationStore]. It records saves
// and returns the configured Weakest slice from WeakestWords.
type PronunciationStore struct {
	mu sync.Mutex

	SaveErr    error
	Weakest    []store.WordStat
	WeakestErr error

	SaveCalls    []SaveCall
	WeakestCalls int
}

var _ store.PronunciationStore = (*PronunciationStore)(nil)

// SavePronunciations implements [store.PronunciationStore].
func (m *PronunciationStore) SavePronunciations(_ context.Context, userID, language string, ps []evaluation.UserPronunciation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, SaveCall{
		UserID:         userID,
		Language:       language,
		Pronunciations: append([]evaluation.UserPronunciation(nil), ps...),
	})
	return m.SaveErr
}

// WeakestWords implements [store.PronunciationStore]. It filters Weakest by
// language and truncates to limit.
func (m *PronunciationStore) WeakestWords(_ context.Context, _, language string, limit int) ([]store.WordStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WeakestCalls++
	if m.WeakestErr != nil {
		return nil, m.WeakestErr
	}
	out := []store.WordStat{}
	for _, ws := range m.Weakest {
		if language != "" && ws.Language != language {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, ws)
	}
	return out, nil
}

// Saves returns a copy of the recorded save calls.
func (m *PronunciationStore) Saves() []SaveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SaveCall(nil), m.SaveCalls...)
}

// IdempotencyGuard is an in-memory [store.IdempotencyGuard]. Claims never
// expire unless Released.
type IdempotencyGuard struct {
	mu sync.Mutex

	ClaimErr error
	claimed  map[string]time.Duration
	Released []string
}

var _ store.IdempotencyGuard = (*IdempotencyGuard)(nil)

// Claim implements [store.IdempotencyGuard].
func (g *IdempotencyGuard) Claim(_ context.Context, key string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ClaimErr != nil {
		return g.ClaimErr
	}
	if g.claimed == nil {
		g.claimed = make(map[string]time.Duration)
	}
	if _, ok := g.claimed[key]; ok {
		return fmt.Errorf("%w: key %q", store.ErrDuplicate, key)
	}
	g.claimed[key] = ttl
	return nil
}

// Release implements [store.IdempotencyGuard].
func (g *IdempotencyGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	g.Released = append(g.Released, key)
	return nil
}

// Held reports whether key is currently claimed and the TTL it was claimed with.
func (g *IdempotencyGuard) Held(key string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ttl, ok := g.claimed[key]
	return ttl, ok
}
