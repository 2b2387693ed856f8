package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const discoveryPath = "/.well-known/openid-configuration"

// ProviderEndpoints is the subset of the OpenID Provider discovery document the gateway relies on.
type ProviderEndpoints struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JwksURI                          string   `json:"jwks_uri"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint,omitempty"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	IdTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// SupportsIntrospection reports whether the provider advertises an RFC 7662 endpoint.
func (p *ProviderEndpoints) SupportsIntrospection() bool {
	return p.IntrospectionEndpoint != ""
}

func (p *ProviderEndpoints) validate() error {
	missing := make([]string, 0)
	if p.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if p.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if p.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if p.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrDiscovery, strings.Join(missing, ", "))
	}
	return nil
}

// DiscoveryURL returns the well-known configuration URL of the issuer.
func DiscoveryURL(issuer string) string {
	return strings.TrimRight(issuer, "/") + discoveryPath
}

// FetchProviderEndpoints downloads and validates the discovery document of the issuer.
func FetchProviderEndpoints(ctx context.Context, httpClient *http.Client, issuer string) (*ProviderEndpoints, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DiscoveryURL(issuer), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get discovery document: %w", ErrDiscovery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrDiscovery, resp.StatusCode)
	}

	var doc ProviderEndpoints
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: unable to decode discovery document: %w", ErrDiscovery, err)
	}

	if err := doc.validate(); err != nil {
		return nil, err
	}

	if strings.TrimRight(doc.Issuer, "/") != strings.TrimRight(issuer, "/") {
		return nil, fmt.Errorf("%w: document issuer %q does not match %q", ErrDiscovery, doc.Issuer, issuer)
	}

	return &doc, nil
}
