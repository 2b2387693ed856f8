package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMetadataTTL = time.Hour
	DefaultJwksTTL     = time.Hour
	DefaultHTTPTimeout = 10 * time.Second

	endpointsKey = "endpoints"
	jwksKey      = "jwks"
)

type MetadataCacheOptions struct {
	MetadataTTL time.Duration
	JwksTTL     time.Duration
	HTTPClient  *http.Client
}

// MetadataCache keeps the provider endpoints and key set for a bounded time.
// Concurrent misses for the same entry result in a single request to the provider.
type MetadataCache struct {
	issuer     string
	httpClient *http.Client
	opts       MetadataCacheOptions
	entries    *cache.Cache
	group      singleflight.Group
}

func NewMetadataCache(issuer string, opts MetadataCacheOptions) *MetadataCache {
	if opts.MetadataTTL <= 0 {
		opts.MetadataTTL = DefaultMetadataTTL
	}
	if opts.JwksTTL <= 0 {
		opts.JwksTTL = DefaultJwksTTL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &MetadataCache{
		issuer:     strings.TrimRight(issuer, "/"),
		httpClient: httpClient,
		opts:       opts,
		// entries expire lazily on read, no janitor goroutine
		entries: cache.New(opts.MetadataTTL, 0),
	}
}

func (m *MetadataCache) Issuer() string {
	return m.issuer
}

func (m *MetadataCache) HTTPClient() *http.Client {
	return m.httpClient
}

// ProviderEndpoints returns the cached discovery document, fetching it on a miss.
func (m *MetadataCache) ProviderEndpoints(ctx context.Context) (*ProviderEndpoints, error) {
	if v, ok := m.entries.Get(endpointsKey); ok {
		return v.(*ProviderEndpoints), nil
	}

	v, err, _ := m.group.Do(endpointsKey, func() (any, error) {
		if v, ok := m.entries.Get(endpointsKey); ok {
			return v, nil
		}
		endpoints, err := FetchProviderEndpoints(ctx, m.httpClient, m.issuer)
		if err != nil {
			return nil, err
		}
		slog.Debug("Fetched provider metadata", "issuer", endpoints.Issuer, "jwks_uri", endpoints.JwksURI)
		m.entries.Set(endpointsKey, endpoints, m.opts.MetadataTTL)
		return endpoints, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProviderEndpoints), nil
}

// JwkKeys returns the cached provider key set, fetching it on a miss.
func (m *MetadataCache) JwkKeys(ctx context.Context) (*JWKSet, error) {
	if v, ok := m.entries.Get(jwksKey); ok {
		return v.(*JWKSet), nil
	}

	endpoints, err := m.ProviderEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJwks, err)
	}

	v, err, _ := m.group.Do(jwksKey, func() (any, error) {
		if v, ok := m.entries.Get(jwksKey); ok {
			return v, nil
		}
		set, err := FetchJWKSet(ctx, m.httpClient, endpoints.JwksURI)
		if err != nil {
			return nil, err
		}
		slog.Debug("Fetched provider keys", "jwks_uri", endpoints.JwksURI, "keys", len(set.Keys))
		m.entries.Set(jwksKey, set, m.opts.JwksTTL)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*JWKSet), nil
}

// CheckIntrospectionSupported fails when the provider does not publish an introspection endpoint.
func (m *MetadataCache) CheckIntrospectionSupported(ctx context.Context) error {
	endpoints, err := m.ProviderEndpoints(ctx)
	if err != nil {
		return err
	}
	if !endpoints.SupportsIntrospection() {
		return fmt.Errorf("%w: %s", ErrUnsupportedVerificationMode, m.issuer)
	}
	return nil
}

// PublishedKeys downloads the provider key set bypassing the cache, invalid keys included.
func (m *MetadataCache) PublishedKeys(ctx context.Context) (*JWKSet, error) {
	endpoints, err := m.ProviderEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJwks, err)
	}
	return DownloadJWKSet(ctx, m.httpClient, endpoints.JwksURI)
}

// Invalidate drops cached endpoints and keys, the next call goes to the provider.
func (m *MetadataCache) Invalidate() {
	m.entries.Flush()
}
