package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// IntrospectionVerifier asks the provider (RFC 7662) about every token.
type IntrospectionVerifier struct {
	metadata Metadata
	opts     Options
}

func NewIntrospectionVerifier(metadata Metadata, opts Options) *IntrospectionVerifier {
	return &IntrospectionVerifier{metadata: metadata, opts: opts}
}

func (v *IntrospectionVerifier) Mode() Mode {
	return ModeIntrospection
}

// Verify returns the introspection response as is, an inactive token is not an error here.
func (v *IntrospectionVerifier) Verify(ctx context.Context, raw string) (TokenPayload, error) {
	if !looksLikeJWT(raw) {
		return nil, fmt.Errorf("%w: not a JWT", ErrInvalidToken)
	}

	endpoints, err := v.metadata.ProviderEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrIntrospection, err)
	}
	if !endpoints.SupportsIntrospection() {
		return nil, fmt.Errorf("%w: %w: no introspection endpoint", ErrInvalidToken, ErrIntrospection)
	}

	form := url.Values{}
	form.Set("client_id", v.opts.ClientID)
	if !v.opts.ClientSecret.IsZero() {
		form.Set("client_secret", v.opts.ClientSecret.Value())
	}
	form.Set("token", raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrIntrospection, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.metadata.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrIntrospection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w: unexpected status %d", ErrInvalidToken, ErrIntrospection, resp.StatusCode)
	}

	var payload TokenPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w: decode response: %w", ErrInvalidToken, ErrIntrospection, err)
	}

	return payload, nil
}
