// Package sessionstore keeps the tokens of logged in browsers server side, the cookie only names the session.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

const DefaultTTL = 15 * time.Minute

// ErrNotFound is returned for unknown, expired or deleted sessions.
var ErrNotFound = errors.New("session not found")

type Store interface {
	Put(ctx context.Context, id, token string) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}
