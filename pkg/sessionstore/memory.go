package sessionstore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process, they are lost on restart.
type MemoryStore struct {
	tokens *cache.Cache
	ttl    time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		tokens: cache.New(ttl, ttl),
		ttl:    ttl,
	}
}

func (s *MemoryStore) Put(_ context.Context, id, token string) error {
	s.tokens.Set(id, token, s.ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (string, error) {
	v, ok := s.tokens.Get(id)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.tokens.Delete(id)
	return nil
}
