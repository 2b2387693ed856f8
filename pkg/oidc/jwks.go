package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var allowedAlgorithms = map[string]bool{
	"RS256":        true,
	"RS384":        true,
	"RS512":        true,
	"PS256":        true,
	"PS384":        true,
	"PS512":        true,
	"ES256":        true,
	"ES384":        true,
	"ES512":        true,
	"RSA-OAEP":     true,
	"RSA-OAEP-256": true,
}

// JWK is a single key of the provider key set, kept as published.
type JWK struct {
	Kid string `json:"kid,omitempty"`
	Kty string `json:"kty,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Validate checks that the key is a complete asymmetric key the gateway is willing to trust.
func (k JWK) Validate() error {
	if k.Kid == "" || k.Kty == "" || k.Alg == "" || k.Use == "" {
		return errors.New("kid, kty, alg and use are required")
	}
	if k.Use != "sig" && k.Use != "enc" {
		return fmt.Errorf("unsupported use %q", k.Use)
	}
	if !allowedAlgorithms[k.Alg] {
		return fmt.Errorf("algorithm %q not allowed", k.Alg)
	}
	switch k.Kty {
	case "RSA":
		if k.N == "" || k.E == "" {
			return errors.New("RSA key without modulus or exponent")
		}
	case "EC":
		if k.Crv == "" || k.X == "" || k.Y == "" {
			return errors.New("EC key without curve or coordinates")
		}
	default:
		return fmt.Errorf("unsupported key type %q", k.Kty)
	}
	return nil
}

// JWKSet is the provider key set. Invalid keys are kept, callers filter with Validate.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

func (s *JWKSet) UnmarshalJSON(data []byte) error {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Keys = make([]JWK, 0, len(raw.Keys))
	for _, rawKey := range raw.Keys {
		var key JWK
		if err := json.Unmarshal(rawKey, &key); err != nil {
			// a key that is not even an object is kept as an empty, invalid entry
			key = JWK{}
		}
		key.Raw = rawKey
		s.Keys = append(s.Keys, key)
	}
	return nil
}

// ValidKeys returns the keys passing Validate.
func (s *JWKSet) ValidKeys() []JWK {
	valid := make([]JWK, 0, len(s.Keys))
	for _, k := range s.Keys {
		if k.Validate() == nil {
			valid = append(valid, k)
		}
	}
	return valid
}

// VerificationSet converts the valid signing keys into a jwk.Set usable for signature checks.
func (s *JWKSet) VerificationSet() (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range s.ValidKeys() {
		if k.Use != "sig" {
			continue
		}
		key, err := jwk.ParseKey(k.Raw)
		if err != nil {
			slog.Warn("Skipping unparsable provider key", "kid", k.Kid, "error", err)
			continue
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("add key %s: %w", k.Kid, err)
		}
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: no signing keys", ErrJwks)
	}
	return set, nil
}

// DownloadJWKSet downloads the key set as published, including keys that fail validation.
func DownloadJWKSet(ctx context.Context, httpClient *http.Client, jwksURI string) (*JWKSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJwks, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get key set: %w", ErrJwks, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrJwks, resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: unable to decode key set: %w", ErrJwks, err)
	}
	return &set, nil
}

// FetchJWKSet downloads the key set and checks that at least one key is valid.
func FetchJWKSet(ctx context.Context, httpClient *http.Client, jwksURI string) (*JWKSet, error) {
	set, err := DownloadJWKSet(ctx, httpClient, jwksURI)
	if err != nil {
		return nil, err
	}

	valid := 0
	for _, k := range set.Keys {
		if err := k.Validate(); err != nil {
			slog.Warn("Provider published an invalid key", "kid", k.Kid, "reason", err)
			continue
		}
		valid++
	}
	if valid == 0 {
		return nil, fmt.Errorf("%w: no valid keys in %s", ErrJwks, jwksURI)
	}

	return set, nil
}
