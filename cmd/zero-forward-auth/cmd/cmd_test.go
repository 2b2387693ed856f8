package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggingJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	setupLogging(slog.LevelDebug, false)
	_, ok := slog.Default().Handler().(*slog.JSONHandler)
	assert.True(t, ok, "expected JSON handler, got %T", slog.Default().Handler())
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))

	setupLogging(slog.LevelInfo, true)
	_, ok = slog.Default().Handler().(*slog.JSONHandler)
	assert.False(t, ok)
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestPrintVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forward-auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oidc:
  issuer: https://idp.example.com/realms/demo
  client_id: forward-auth
verification:
  mode: introspection
`), 0o600))

	var out bytes.Buffer
	printVersion(&out, path)
	assert.Contains(t, out.String(), "zero-forward-auth v")
	assert.Contains(t, out.String(), "Issuer: https://idp.example.com/realms/demo")
	assert.Contains(t, out.String(), "Verification mode: introspection")
	assert.Contains(t, out.String(), "Login: disabled")

	out.Reset()
	printVersion(&out, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Contains(t, out.String(), "not usable")
}
