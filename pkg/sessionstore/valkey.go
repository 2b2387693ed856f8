package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "session:"

// ValkeyStore shares sessions between replicas.
type ValkeyStore struct {
	client valkey.Client
	ttl    time.Duration
}

func NewValkeyStore(client valkey.Client, ttl time.Duration) *ValkeyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ValkeyStore{client: client, ttl: ttl}
}

func (s *ValkeyStore) Put(ctx context.Context, id, token string) error {
	cmd := s.client.B().Set().Key(valkeyKeyPrefix + id).Value(token).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storing session in Valkey: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Get(ctx context.Context, id string) (string, error) {
	token, err := s.client.Do(ctx, s.client.B().Get().Key(valkeyKeyPrefix+id).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading session from Valkey: %w", err)
	}
	return token, nil
}

func (s *ValkeyStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(valkeyKeyPrefix+id).Build()).Error(); err != nil {
		return fmt.Errorf("deleting session from Valkey: %w", err)
	}
	return nil
}
