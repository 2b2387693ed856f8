// Package valkeytest runs an in-process Valkey compatible server for tests.
package valkeytest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/valkey-io/valkey-go"
)

// New starts a server and returns a client connected to it. Both are closed when the test ends.
func New(t testing.TB) (valkey.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{server.Addr()},
		// no CLIENT TRACKING support
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("creating Valkey client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, server
}
