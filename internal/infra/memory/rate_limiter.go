package memory

import (
	"context"
	"sync"
	"time"

	"paywall-access/internal/domain/ports/repository"
)

var _ repository.RateLimitStore = (*SlidingWindowStore)(nil)

// SlidingWindowStore is a single-process RateLimitStore. Counts are lost on restart
// and not shared between instances; use the redis store when running more than one.
type SlidingWindowStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time // ascending
	now  func() time.Time
}

func NewSlidingWindowStore(now func() time.Time) *SlidingWindowStore {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowStore{hits: make(map[string][]time.Time), now: now}
}

func (s *SlidingWindowStore) IncrementAndCheck(_ context.Context, key string, window time.Duration, max int) (repository.RateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	kept := s.hits[key]
	i := 0
	for i < len(kept) && !kept[i].After(cutoff) {
		i++
	}
	kept = kept[i:]

	if len(kept) >= max {
		s.hits[key] = kept
		if len(kept) == 0 {
			// max <= 0 admits nothing
			return repository.RateDecision{RetryAfter: window}, nil
		}
		return repository.RateDecision{RetryAfter: kept[0].Add(window).Sub(now)}, nil
	}
	s.hits[key] = append(kept, now)
	return repository.RateDecision{Allowed: true}, nil
}

// Prune drops keys with no hits inside window. Callers run it periodically to bound memory.
func (s *SlidingWindowStore) Prune(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	n := 0
	for k, v := range s.hits {
		if len(v) == 0 || !v[len(v)-1].After(cutoff) {
			delete(s.hits, k)
			n++
		}
	}
	return n
}
