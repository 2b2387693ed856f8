package sessionstore_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/sessionstore"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/valkeytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store sessionstore.Store) {
	ctx := context.Background()
	token := strings.Repeat("t", 8*1024)

	require.NoError(t, store.Put(ctx, "sid-1", token))

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, token, got)

	// reads do not consume the session
	_, err = store.Get(ctx, "sid-1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	_, err = store.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)

	_, err = store.Get(ctx, "never-issued")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "never-issued"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, sessionstore.NewMemoryStore(time.Minute))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := sessionstore.NewMemoryStore(50 * time.Millisecond)
	require.NoError(t, store.Put(context.Background(), "sid", "token"))

	time.Sleep(100 * time.Millisecond)

	_, err := store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestValkeyStore(t *testing.T) {
	client, _ := valkeytest.New(t)
	exerciseStore(t, sessionstore.NewValkeyStore(client, time.Minute))
}

func TestValkeyStoreExpiry(t *testing.T) {
	client, server := valkeytest.New(t)
	store := sessionstore.NewValkeyStore(client, time.Minute)
	require.NoError(t, store.Put(context.Background(), "sid", "token"))

	server.FastForward(2 * time.Minute)

	_, err := store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}
