package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a single-process Store. Results live in an expirable LRU
// sized by maxResults; the retention passed to Complete is capped by the
// cache TTL.
type MemoryStore struct {
	results *expirable.LRU[string, []byte]

	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most maxResults results for ttl.
func NewMemoryStore(maxResults int, ttl time.Duration) *MemoryStore {
	if maxResults <= 0 {
		maxResults = 10_000
	}
	return &MemoryStore{
		results: expirable.NewLRU[string, []byte](maxResults, nil, ttl),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := s.results.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, held := s.locks[key]; held && now.Before(exp) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, result []byte, retention time.Duration) error {
	s.results.Add(key, result)

	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
	return nil
}
