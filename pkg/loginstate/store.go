package loginstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

const (
	DefaultTTL  = 10 * time.Minute
	stateLength = 24
)

// ErrNotFound is returned by Take for unknown, expired or already consumed states.
var ErrNotFound = errors.New("login state not found")

// Entry is what the gateway remembers between redirecting to the provider and the callback.
type Entry struct {
	CodeVerifier   string    `json:"code_verifier,omitempty"`
	Nonce          string    `json:"nonce,omitempty"`
	ForwardedProto string    `json:"forwarded_proto"`
	ForwardedHost  string    `json:"forwarded_host"`
	ForwardedURI   string    `json:"forwarded_uri"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store keeps entries keyed by the OAuth state. Take removes the entry, a state can be used once.
type Store interface {
	Put(ctx context.Context, state string, entry *Entry) error
	Take(ctx context.Context, state string) (*Entry, error)
}

// NewState returns an unguessable base62 state value.
func NewState() (string, error) {
	state, err := base62.Random(stateLength)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return state, nil
}
