package login_test

import (
	"context"
	"testing"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/valkeytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseNonceService(t *testing.T, nonces login.NonceService) {
	ctx := context.Background()

	first, err := nonces.Get(ctx)
	require.NoError(t, err)
	second, err := nonces.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, nonces.Redeem(ctx, first))
	assert.Error(t, nonces.Redeem(ctx, first), "a nonce is redeemed once")
	assert.Error(t, nonces.Redeem(ctx, "never-issued"))
	require.NoError(t, nonces.Redeem(ctx, second))
}

func TestHashicorpNonceService(t *testing.T) {
	nonces, err := login.NewHashicorpNonceService()
	require.NoError(t, err)
	exerciseNonceService(t, nonces)
}

func TestValkeyNonceService(t *testing.T) {
	client, _ := valkeytest.New(t)
	exerciseNonceService(t, login.NewValkeyNonceService(client, time.Minute))
}

func TestValkeyNonceExpiry(t *testing.T) {
	client, server := valkeytest.New(t)
	nonces := login.NewValkeyNonceService(client, time.Minute)

	nonce, err := nonces.Get(context.Background())
	require.NoError(t, err)

	server.FastForward(2 * time.Minute)

	assert.Error(t, nonces.Redeem(context.Background(), nonce))
}
