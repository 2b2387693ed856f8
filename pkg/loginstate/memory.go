package loginstate

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps login state in process. Use ValkeyStore when running several replicas.
type MemoryStore struct {
	mu      sync.Mutex
	entries *cache.Cache
	ttl     time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: cache.New(ttl, ttl),
		ttl:     ttl,
	}
}

func (s *MemoryStore) Put(_ context.Context, state string, entry *Entry) error {
	s.entries.Set(state, *entry, s.ttl)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, state string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries.Get(state)
	if !ok {
		return nil, ErrNotFound
	}
	s.entries.Delete(state)

	entry := v.(Entry)
	return &entry, nil
}

func (s *MemoryStore) Len() int {
	return s.entries.ItemCount()
}
