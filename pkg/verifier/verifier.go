package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrIntrospection = errors.New("introspection request failed")
)

type Mode string

const (
	ModeJWT           Mode = "jwt"
	ModeIntrospection Mode = "introspection"
)

// Verifier checks a raw bearer token against the provider.
type Verifier interface {
	Verify(ctx context.Context, raw string) (TokenPayload, error)
	Mode() Mode
}

// Metadata is the provider view a verifier needs, implemented by oidc.MetadataCache.
type Metadata interface {
	Issuer() string
	ProviderEndpoints(ctx context.Context) (*oidc.ProviderEndpoints, error)
	JwkKeys(ctx context.Context) (*oidc.JWKSet, error)
	HTTPClient() *http.Client
}

type Options struct {
	ClientID       string
	ClientSecret   oidc.SecretString
	StrictAudience bool
}

// New returns the verifier for mode. The mode is fixed for the lifetime of the process.
func New(mode Mode, metadata Metadata, opts Options) (Verifier, error) {
	switch mode {
	case ModeJWT, "":
		return NewJWTVerifier(metadata, opts), nil
	case ModeIntrospection:
		return NewIntrospectionVerifier(metadata, opts), nil
	default:
		return nil, fmt.Errorf("unknown verification mode %q", mode)
	}
}

// looksLikeJWT is the cheap structural check done before any provider call.
func looksLikeJWT(raw string) bool {
	return raw != "" && strings.Contains(raw, ".")
}
