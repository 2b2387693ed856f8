package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTVerifier checks signature, expiry, issuer and optionally audience locally against the provider keys.
type JWTVerifier struct {
	metadata Metadata
	opts     Options
}

func NewJWTVerifier(metadata Metadata, opts Options) *JWTVerifier {
	return &JWTVerifier{metadata: metadata, opts: opts}
}

func (v *JWTVerifier) Mode() Mode {
	return ModeJWT
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (TokenPayload, error) {
	return v.verify(ctx, raw, v.opts.StrictAudience)
}

// VerifyIDToken always requires the client id as audience, as ID tokens are issued for this client only.
func (v *JWTVerifier) VerifyIDToken(ctx context.Context, raw string) (TokenPayload, error) {
	return v.verify(ctx, raw, true)
}

func (v *JWTVerifier) verify(ctx context.Context, raw string, strictAudience bool) (TokenPayload, error) {
	if !looksLikeJWT(raw) {
		return nil, fmt.Errorf("%w: not a JWT", ErrInvalidToken)
	}

	endpoints, err := v.metadata.ProviderEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	keys, err := v.metadata.JwkKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	keySet, err := keys.VerificationSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	expectedIssuer := strings.TrimRight(endpoints.Issuer, "/")
	options := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithRequiredClaim("exp"),
		jwt.WithValidator(jwt.ValidatorFunc(func(_ context.Context, t jwt.Token) jwt.ValidationError {
			if strings.TrimRight(t.Issuer(), "/") != expectedIssuer {
				return jwt.NewValidationError(fmt.Errorf("issuer %q not accepted", t.Issuer()))
			}
			return nil
		})),
	}
	if strictAudience {
		options = append(options, jwt.WithAudience(v.opts.ClientID))
	}

	token, err := jwt.ParseString(raw, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, err := token.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read claims: %w", ErrInvalidToken, err)
	}

	return TokenPayload(claims), nil
}
