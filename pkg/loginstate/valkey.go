package loginstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "login_state:"

// ValkeyStore shares login state between replicas. Take relies on GETDEL and is atomic on the server.
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

func (s *ValkeyStore) Put(ctx context.Context, state string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode login state: %w", err)
	}
	cmd := s.client.B().Set().Key(valkeyKeyPrefix + state).Value(string(data)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storing login state in Valkey: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Take(ctx context.Context, state string) (*Entry, error) {
	cmd := s.client.B().Getdel().Key(valkeyKeyPrefix + state).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking login state from Valkey: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode login state: %w", err)
	}
	return &entry, nil
}

// Ping checks that Valkey is reachable.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}
