package login_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/authz"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/loginstate"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc/oidctest"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSession struct {
	token string
	calls int
	err   error
}

func (s *recordingSession) Regenerate(token string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.token = token
	return nil
}

var original = login.ForwardedRequest{
	Proto:  "https",
	Host:   "app.example.com",
	URI:    "/reports/2024?format=pdf",
	Method: http.MethodGet,
}

func newFlow(t *testing.T, provider *oidctest.Provider, mode verifier.Mode, cfg login.Config) (*login.Flow, *loginstate.MemoryStore) {
	t.Helper()
	cfg.ClientID = oidctest.ClientID
	cfg.ClientSecret = oidc.NewSecretString(oidctest.ClientSecret)
	cfg.RedirectURI = "https://auth.example.com/_oauth"

	nonces, err := login.NewHashicorpNonceService()
	require.NoError(t, err)
	states := loginstate.NewMemoryStore(0)
	metadata := oidc.NewMetadataCache(provider.Issuer(), oidc.MetadataCacheOptions{})
	tokens, err := verifier.New(mode, metadata, verifier.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	require.NoError(t, err)

	flow, err := login.NewFlow(cfg, metadata, tokens, states, nonces)
	require.NoError(t, err)
	return flow, states
}

func authParams(t *testing.T, authURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query()
}

func TestCodeFlowRoundTrip(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	query := authParams(t, authURL)
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, oidctest.ClientID, query.Get("client_id"))
	assert.Equal(t, "https://auth.example.com/_oauth", query.Get("redirect_uri"))
	assert.Equal(t, "openid", query.Get("scope"))
	assert.Len(t, query.Get("state"), 24)

	idToken := provider.Sign(t, provider.Claims("alice"))
	challenge := query.Get("code_challenge")
	provider.SetTokenHandler(func(form url.Values) (int, map[string]any) {
		sum := sha256.Sum256([]byte(form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
		}
		return http.StatusOK, map[string]any{
			"access_token": "opaque",
			"token_type":   "Bearer",
			"id_token":     idToken,
		}
	})

	session := &recordingSession{}
	redirect, err := flow.CompleteCallback(context.Background(), url.Values{
		"state": {query.Get("state")},
		"code":  {"authorization-code"},
	}, session)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com/reports/2024?format=pdf", redirect)
	assert.Equal(t, idToken, session.token)
	assert.Equal(t, 1, session.calls)
}

func TestCodeFlowAccessToken(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{TokenType: login.TokenTypeAccess})

	accessToken := provider.Sign(t, provider.Claims("alice"))
	provider.SetTokenHandler(func(url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"id_token":     provider.Sign(t, provider.Claims("alice")),
		}
	})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	session := &recordingSession{}
	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"code":  {"authorization-code"},
	}, session)
	require.NoError(t, err)
	assert.Equal(t, accessToken, session.token)
}

func TestCodeFlowOpaqueAccessTokenInJWTMode(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{TokenType: login.TokenTypeAccess})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	// the default token endpoint answers with an opaque access token
	session := &recordingSession{}
	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"code":  {"authorization-code"},
	}, session)
	assert.ErrorIs(t, err, verifier.ErrInvalidToken)
	assert.Equal(t, 0, session.calls)
}

func TestCodeFlowOpaqueAccessTokenIntrospected(t *testing.T) {
	admins := authz.Policy{RolesPath: "groups.special", RoleName: "admins"}

	tests := []struct {
		name    string
		answer  map[string]any
		wantErr error
	}{
		{
			name:   "role granted",
			answer: map[string]any{"active": true, "sub": "alice", "groups": map[string]any{"special": []string{"admins"}}},
		},
		{
			name:    "role missing",
			answer:  map[string]any{"active": true, "sub": "bob", "groups": map[string]any{"special": []string{"users"}}},
			wantErr: authz.ErrAccessDenied,
		},
		{
			name:    "inactive",
			answer:  map[string]any{"active": false},
			wantErr: authz.ErrTokenInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := oidctest.New(t, oidctest.WithIntrospection())
			flow, _ := newFlow(t, provider, verifier.ModeIntrospection, login.Config{
				TokenType: login.TokenTypeAccess,
				Policy:    admins,
			})
			provider.SetIntrospectionHandler(func(form url.Values) (int, map[string]any) {
				if form.Get("token") != "opaque-access-token" {
					return http.StatusOK, map[string]any{"active": false}
				}
				return http.StatusOK, tt.answer
			})

			authURL, err := flow.BeginLogin(context.Background(), original)
			require.NoError(t, err)

			session := &recordingSession{}
			_, err = flow.CompleteCallback(context.Background(), url.Values{
				"state": {authParams(t, authURL).Get("state")},
				"code":  {"authorization-code"},
			}, session)

			assert.Equal(t, int32(1), provider.IntrospectionHits.Load())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, session.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "opaque-access-token", session.token)
		})
	}
}

func TestImplicitFlowRoundTrip(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{Flow: login.FlowImplicit})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	query := authParams(t, authURL)
	assert.Equal(t, "id_token", query.Get("response_type"))
	assert.Equal(t, "form_post", query.Get("response_mode"))
	assert.Empty(t, query.Get("code_challenge"))
	require.NotEmpty(t, query.Get("nonce"))

	claims := provider.Claims("alice")
	claims["nonce"] = query.Get("nonce")
	idToken := provider.Sign(t, claims)

	session := &recordingSession{}
	redirect, err := flow.CompleteCallback(context.Background(), url.Values{
		"state":    {query.Get("state")},
		"id_token": {idToken},
	}, session)
	require.NoError(t, err)
	assert.Equal(t, login.OriginalURL(original.Proto, original.Host, original.URI), redirect)
	assert.Equal(t, idToken, session.token)
	assert.Equal(t, int32(0), provider.TokenHits.Load())
}

func TestImplicitFlowNonceMismatch(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{Flow: login.FlowImplicit})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	claims := provider.Claims("alice")
	claims["nonce"] = "replayed"

	session := &recordingSession{}
	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state":    {authParams(t, authURL).Get("state")},
		"id_token": {provider.Sign(t, claims)},
	}, session)
	assert.ErrorIs(t, err, verifier.ErrInvalidToken)
	assert.Equal(t, 0, session.calls)
}

// implicitAccessLogin starts an implicit login that asks for an access token next to the ID token.
func implicitAccessLogin(t *testing.T, provider *oidctest.Provider) (*login.Flow, url.Values) {
	t.Helper()
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{
		Flow:      login.FlowImplicit,
		TokenType: login.TokenTypeAccess,
		Policy:    authz.Policy{RolesPath: "groups.special", RoleName: "admins"},
	})
	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)
	query := authParams(t, authURL)
	require.Equal(t, "id_token token", query.Get("response_type"))
	return flow, query
}

func adminClaims(provider *oidctest.Provider, subject string) map[string]any {
	claims := provider.Claims(subject)
	claims["groups"] = map[string]any{"special": []string{"admins"}}
	return claims
}

func TestImplicitFlowAccessToken(t *testing.T) {
	provider := oidctest.New(t)
	flow, query := implicitAccessLogin(t, provider)

	accessToken := provider.Sign(t, adminClaims(provider, "alice"))
	idClaims := provider.Claims("alice")
	idClaims["nonce"] = query.Get("nonce")
	idClaims["at_hash"] = oidctest.AccessTokenHash(accessToken)

	session := &recordingSession{}
	_, err := flow.CompleteCallback(context.Background(), url.Values{
		"state":        {query.Get("state")},
		"id_token":     {provider.Sign(t, idClaims)},
		"access_token": {accessToken},
	}, session)
	require.NoError(t, err)
	assert.Equal(t, accessToken, session.token)
}

func TestImplicitFlowRejectsForgedAccessToken(t *testing.T) {
	provider := oidctest.New(t)
	flow, query := implicitAccessLogin(t, provider)

	// a valid login of a non-admin, paired with a self-signed token claiming the admin role
	forged := provider.SignWith(t, oidctest.ForeignKey(t), adminClaims(provider, "mallory"))
	idClaims := provider.Claims("mallory")
	idClaims["nonce"] = query.Get("nonce")
	idClaims["at_hash"] = oidctest.AccessTokenHash(forged)

	session := &recordingSession{}
	_, err := flow.CompleteCallback(context.Background(), url.Values{
		"state":        {query.Get("state")},
		"id_token":     {provider.Sign(t, idClaims)},
		"access_token": {forged},
	}, session)
	assert.ErrorIs(t, err, verifier.ErrInvalidToken)
	assert.Equal(t, 0, session.calls)
}

func TestImplicitFlowAccessTokenHash(t *testing.T) {
	tests := []struct {
		name   string
		atHash func(accessToken string) any
	}{
		{"missing", func(string) any { return nil }},
		{"other token", func(string) any { return oidctest.AccessTokenHash("another-token") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := oidctest.New(t)
			flow, query := implicitAccessLogin(t, provider)

			accessToken := provider.Sign(t, adminClaims(provider, "mallory"))
			idClaims := provider.Claims("mallory")
			idClaims["nonce"] = query.Get("nonce")
			if h := tt.atHash(accessToken); h != nil {
				idClaims["at_hash"] = h
			}

			session := &recordingSession{}
			_, err := flow.CompleteCallback(context.Background(), url.Values{
				"state":        {query.Get("state")},
				"id_token":     {provider.Sign(t, idClaims)},
				"access_token": {accessToken},
			}, session)
			assert.ErrorIs(t, err, verifier.ErrInvalidToken)
			assert.Equal(t, 0, session.calls)
		})
	}
}

func TestCallbackStateErrors(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{})

	session := &recordingSession{}
	_, err := flow.CompleteCallback(context.Background(), url.Values{"code": {"c"}}, session)
	assert.ErrorIs(t, err, login.ErrMissingState)

	_, err = flow.CompleteCallback(context.Background(), url.Values{"state": {"unknown"}, "code": {"c"}}, session)
	assert.ErrorIs(t, err, login.ErrCodeExpired)

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)
	params := url.Values{"state": {authParams(t, authURL).Get("state")}, "code": {"c"}}

	_, err = flow.CompleteCallback(context.Background(), params, session)
	require.NoError(t, err)

	// the same callback URL cannot be used twice
	_, err = flow.CompleteCallback(context.Background(), params, session)
	assert.ErrorIs(t, err, login.ErrCodeExpired)
	assert.Equal(t, 1, session.calls)
}

func TestCallbackProviderError(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"error": {"access_denied"},
	}, &recordingSession{})
	assert.ErrorIs(t, err, login.ErrProviderRejected)
}

func TestCallbackMissingOriginalRequest(t *testing.T) {
	provider := oidctest.New(t)
	flow, states := newFlow(t, provider, verifier.ModeJWT, login.Config{})

	require.NoError(t, states.Put(context.Background(), "state-without-origin", &loginstate.Entry{
		CodeVerifier:   "v",
		ForwardedProto: "https",
		ForwardedHost:  "app.example.com",
	}))

	_, err := flow.CompleteCallback(context.Background(), url.Values{
		"state": {"state-without-origin"},
		"code":  {"c"},
	}, &recordingSession{})
	assert.ErrorIs(t, err, login.ErrMissingOriginalRequest)
}

func TestCallbackTokenExchangeFailure(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{})
	provider.SetTokenHandler(func(url.Values) (int, map[string]any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
	})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	session := &recordingSession{}
	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"code":  {"c"},
	}, session)
	assert.ErrorIs(t, err, login.ErrTokenExchange)
	assert.Equal(t, 0, session.calls)
}

func TestCallbackPolicyDeniesWithoutSession(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{
		Policy: authz.Policy{RolesPath: "groups.special", RoleName: "admins"},
	})

	claims := provider.Claims("bob")
	claims["groups"] = map[string]any{"special": []string{"users"}}
	idToken := provider.Sign(t, claims)
	provider.SetTokenHandler(func(url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "opaque", "token_type": "Bearer", "id_token": idToken}
	})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	session := &recordingSession{}
	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"code":  {"c"},
	}, session)
	assert.ErrorIs(t, err, authz.ErrAccessDenied)
	assert.Equal(t, 0, session.calls)
}

func TestCallbackSessionFailure(t *testing.T) {
	provider := oidctest.New(t)
	flow, _ := newFlow(t, provider, verifier.ModeJWT, login.Config{})

	authURL, err := flow.BeginLogin(context.Background(), original)
	require.NoError(t, err)

	_, err = flow.CompleteCallback(context.Background(), url.Values{
		"state": {authParams(t, authURL).Get("state")},
		"code":  {"c"},
	}, &recordingSession{err: errors.New("cookie too large")})
	assert.ErrorIs(t, err, login.ErrSession)
}

func TestOriginalURL(t *testing.T) {
	tests := []struct {
		scheme, host, uri string
		want              string
	}{
		{"https", "app.example.com", "/a/b?c=d", "https://app.example.com/a/b?c=d"},
		{"http", "localhost:8080", "/", "http://localhost:8080/"},
		{"https", "app.example.com", "dashboard", "https://app.example.com/dashboard"},
		{"", "app.example.com", "/", "https://app.example.com/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, login.OriginalURL(tt.scheme, tt.host, tt.uri))
	}
}
