// Package oidctest provides an in-process OpenID Provider for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	ClientID     = "forward-auth"
	ClientSecret = "forward-auth-secret"
	KeyID        = "test-key"
)

// TokenHandler answers the token endpoint. The default issues a signed id_token for "alice".
type TokenHandler func(form url.Values) (int, map[string]any)

// IntrospectionHandler answers the introspection endpoint.
type IntrospectionHandler func(form url.Values) (int, map[string]any)

type Provider struct {
	Server *httptest.Server

	DiscoveryHits     atomic.Int32
	JwksHits          atomic.Int32
	TokenHits         atomic.Int32
	IntrospectionHits atomic.Int32

	privateKey jwk.Key
	publicKey  jwk.Key

	mu                   sync.Mutex
	advertiseIntrospect  bool
	extraKeys            []json.RawMessage
	discoveryStatus      int
	discoveryIssuer      string
	tokenHandler         TokenHandler
	introspectionHandler IntrospectionHandler
}

type Option func(*Provider)

// WithIntrospection makes the provider advertise and serve an introspection endpoint.
func WithIntrospection() Option {
	return func(p *Provider) {
		p.advertiseIntrospect = true
	}
}

// WithExtraKeys appends raw JWKs next to the signing key.
func WithExtraKeys(keys ...string) Option {
	return func(p *Provider) {
		for _, k := range keys {
			p.extraKeys = append(p.extraKeys, json.RawMessage(k))
		}
	}
}

// WithoutSigningKey publishes only the extra keys.
func WithoutSigningKey() Option {
	return func(p *Provider) {
		p.publicKey = nil
	}
}

func New(t testing.TB, opts ...Option) *Provider {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("import key: %v", err)
	}
	_ = priv.Set(jwk.KeyIDKey, KeyID)
	_ = priv.Set(jwk.AlgorithmKey, jwa.RS256)
	pub, err := priv.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	_ = pub.Set(jwk.KeyUsageKey, "sig")

	p := &Provider{
		privateKey:      priv,
		publicKey:       pub,
		discoveryStatus: http.StatusOK,
	}
	for _, opt := range opts {
		opt(p)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/jwks", p.jwks)
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/introspect", p.introspect)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

func (p *Provider) Issuer() string {
	return p.Server.URL
}

func (p *Provider) AuthorizationEndpoint() string {
	return p.Server.URL + "/authorize"
}

// SetDiscoveryStatus makes the discovery endpoint fail with the given status.
func (p *Provider) SetDiscoveryStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryStatus = status
}

// SetDiscoveryIssuer makes the discovery document report another issuer.
func (p *Provider) SetDiscoveryIssuer(issuer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryIssuer = issuer
}

func (p *Provider) SetTokenHandler(h TokenHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenHandler = h
}

func (p *Provider) SetIntrospectionHandler(h IntrospectionHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.introspectionHandler = h
}

// Claims returns a valid claim set for subject, issued by this provider for the test client.
func (p *Provider) Claims(subject string) map[string]any {
	return map[string]any{
		"iss": p.Issuer(),
		"sub": subject,
		"aud": ClientID,
		"iat": time.Now(),
		"exp": time.Now().Add(5 * time.Minute),
	}
}

// Sign issues an RS256 JWT over claims with the provider key.
func (p *Provider) Sign(t testing.TB, claims map[string]any) string {
	t.Helper()
	return p.SignWith(t, p.privateKey, claims)
}

// SignWith issues an RS256 JWT with an arbitrary key, used to forge tokens.
func (p *Provider) SignWith(t testing.TB, key jwk.Key, claims map[string]any) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range claims {
		if err := tok.Set(k, v); err != nil {
			t.Fatalf("set claim %s: %v", k, err)
		}
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

// AccessTokenHash is the at_hash claim value for accessToken in an RS256 ID token.
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// ForeignKey returns a fresh key carrying the provider key id.
func ForeignKey(t testing.TB) jwk.Key {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("import key: %v", err)
	}
	_ = key.Set(jwk.KeyIDKey, KeyID)
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)
	return key
}

func (p *Provider) discovery(w http.ResponseWriter, r *http.Request) {
	p.DiscoveryHits.Add(1)
	p.mu.Lock()
	status := p.discoveryStatus
	advertise := p.advertiseIntrospect
	issuer := p.discoveryIssuer
	p.mu.Unlock()
	if issuer == "" {
		issuer = p.Issuer()
	}

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	doc := map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": p.AuthorizationEndpoint(),
		"token_endpoint":         p.Server.URL + "/token",
		"jwks_uri":               p.Server.URL + "/jwks",
		"response_types_supported": []string{
			"code", "id_token",
		},
	}
	if advertise {
		doc["introspection_endpoint"] = p.Server.URL + "/introspect"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) jwks(w http.ResponseWriter, r *http.Request) {
	p.JwksHits.Add(1)
	keys := make([]any, 0, len(p.extraKeys)+1)
	if p.publicKey != nil {
		keys = append(keys, p.publicKey)
	}
	for _, k := range p.extraKeys {
		keys = append(keys, k)
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	p.TokenHits.Add(1)
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	handler := p.tokenHandler
	p.mu.Unlock()

	if handler != nil {
		status, body := handler(r.PostForm)
		writeJSON(w, status, body)
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("code") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
		return
	}
	idToken, err := p.sign(p.Claims("alice"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "opaque-access-token",
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     idToken,
	})
}

func (p *Provider) introspect(w http.ResponseWriter, r *http.Request) {
	p.IntrospectionHits.Add(1)
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	handler := p.introspectionHandler
	p.mu.Unlock()

	if handler != nil {
		status, body := handler(r.PostForm)
		writeJSON(w, status, body)
		return
	}
	tok, err := jwt.ParseString(r.PostForm.Get("token"), jwt.WithKey(jwa.RS256, p.publicKey))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	claims, _ := tok.AsMap(r.Context())
	claims["active"] = true
	writeJSON(w, http.StatusOK, claims)
}

func (p *Provider) sign(claims map[string]any) (string, error) {
	tok := jwt.New()
	for k, v := range claims {
		if err := tok.Set(k, v); err != nil {
			return "", err
		}
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, p.privateKey))
	return string(signed), err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
