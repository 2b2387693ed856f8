package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/authz"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/loginstate"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"golang.org/x/oauth2"
)

type FlowType string

const (
	FlowCode     FlowType = "code"
	FlowImplicit FlowType = "implicit"
)

// TokenType selects which token is kept in the session.
type TokenType string

const (
	TokenTypeID     TokenType = "id_token"
	TokenTypeAccess TokenType = "access_token"
)

type Config struct {
	ClientID     string
	ClientSecret oidc.SecretString
	RedirectURI  string
	Scopes       []string
	Flow         FlowType
	TokenType    TokenType
	Policy       authz.Policy
}

// SessionWriter replaces the caller's session with a new one carrying token.
type SessionWriter interface {
	Regenerate(token string) error
}

// Flow drives the browser login: BeginLogin sends the user to the provider, CompleteCallback consumes the answer.
type Flow struct {
	cfg      Config
	metadata verifier.Metadata
	states   loginstate.Store
	nonces   NonceService
	idTokens *verifier.JWTVerifier
	tokens   verifier.Verifier
}

// NewFlow creates the login flow. tokens is the deployment verifier, access tokens kept in the session pass
// through it before the policy sees their claims. A nil tokens verifies them locally as JWTs.
func NewFlow(cfg Config, metadata verifier.Metadata, tokens verifier.Verifier, states loginstate.Store, nonces NonceService) (*Flow, error) {
	if cfg.Flow == "" {
		cfg.Flow = FlowCode
	}
	if cfg.TokenType == "" {
		cfg.TokenType = TokenTypeID
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid"}
	}
	if cfg.Flow == FlowImplicit && nonces == nil {
		return nil, errors.New("implicit flow requires a nonce service")
	}
	if tokens == nil {
		tokens = verifier.NewJWTVerifier(metadata, verifier.Options{ClientID: cfg.ClientID})
	}
	return &Flow{
		cfg:      cfg,
		metadata: metadata,
		states:   states,
		nonces:   nonces,
		idTokens: verifier.NewJWTVerifier(metadata, verifier.Options{ClientID: cfg.ClientID}),
		tokens:   tokens,
	}, nil
}

func (f *Flow) oauth2Config(endpoints *oidc.ProviderEndpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret.Value(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthorizationEndpoint,
			TokenURL:  endpoints.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: f.cfg.RedirectURI,
		Scopes:      f.cfg.Scopes,
	}
}

// BeginLogin remembers the forwarded request under a fresh state and returns the provider authorization URL.
func (f *Flow) BeginLogin(ctx context.Context, req ForwardedRequest) (string, error) {
	if !strings.EqualFold(req.Proto, "https") {
		slog.Warn("Starting login for a request that was not made over HTTPS", "proto", req.Proto, "host", req.Host)
	}

	endpoints, err := f.metadata.ProviderEndpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("begin login: %w", err)
	}

	state, err := loginstate.NewState()
	if err != nil {
		return "", err
	}

	entry := &loginstate.Entry{
		ForwardedProto: req.Proto,
		ForwardedHost:  req.Host,
		ForwardedURI:   req.URI,
		CreatedAt:      time.Now(),
	}

	oauthCfg := f.oauth2Config(endpoints)
	var authURL string
	switch f.cfg.Flow {
	case FlowImplicit:
		nonce, err := f.nonces.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("begin login: %w", err)
		}
		entry.Nonce = nonce
		responseType := "id_token"
		if f.cfg.TokenType == TokenTypeAccess {
			responseType = "id_token token"
		}
		authURL = oauthCfg.AuthCodeURL(state,
			oauth2.SetAuthURLParam("response_type", responseType),
			oauth2.SetAuthURLParam("response_mode", "form_post"),
			oauth2.SetAuthURLParam("nonce", nonce),
		)
	default:
		entry.CodeVerifier = oauth2.GenerateVerifier()
		authURL = oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(entry.CodeVerifier))
	}

	if err := f.states.Put(ctx, state, entry); err != nil {
		return "", fmt.Errorf("begin login: %w", err)
	}

	slog.Debug("Login started", "state", state, "flow", f.cfg.Flow, "host", req.Host, "uri", req.URI)
	return authURL, nil
}

// CompleteCallback consumes the login state, obtains and checks the token, stores it in a fresh session
// and returns the URL of the originally requested resource.
func (f *Flow) CompleteCallback(ctx context.Context, params url.Values, sessions SessionWriter) (string, error) {
	state := params.Get("state")
	if state == "" {
		return "", ErrMissingState
	}

	entry, err := f.states.Take(ctx, state)
	if errors.Is(err, loginstate.ErrNotFound) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", fmt.Errorf("complete callback: %w", err)
	}

	if providerErr := params.Get("error"); providerErr != "" {
		slog.Warn("Provider returned an error", "error", providerErr, "description", params.Get("error_description"))
		return "", fmt.Errorf("%w: %s", ErrProviderRejected, providerErr)
	}

	if entry.ForwardedURI == "" || entry.ForwardedHost == "" {
		return "", ErrMissingOriginalRequest
	}

	var token string
	var claims verifier.TokenPayload
	switch f.cfg.Flow {
	case FlowImplicit:
		token, claims, err = f.completeImplicit(ctx, entry, params)
	default:
		token, claims, err = f.completeCode(ctx, entry, params)
	}
	if err != nil {
		return "", err
	}

	// also rejects inactive introspection results when no role is required
	if err := f.cfg.Policy.Authorize(claims); err != nil {
		return "", err
	}

	if err := sessions.Regenerate(token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSession, err)
	}

	return OriginalURL(entry.ForwardedProto, entry.ForwardedHost, entry.ForwardedURI), nil
}

func (f *Flow) completeCode(ctx context.Context, entry *loginstate.Entry, params url.Values) (string, verifier.TokenPayload, error) {
	code := params.Get("code")
	if code == "" {
		return "", nil, fmt.Errorf("%w: no authorization code", ErrProviderRejected)
	}

	endpoints, err := f.metadata.ProviderEndpoints(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.metadata.HTTPClient())
	tok, err := f.oauth2Config(endpoints).Exchange(exchangeCtx, code, oauth2.VerifierOption(entry.CodeVerifier))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	var idClaims verifier.TokenPayload
	if idToken != "" {
		idClaims, err = f.idTokens.VerifyIDToken(ctx, idToken)
		if err != nil {
			return "", nil, err
		}
	}

	if f.cfg.TokenType == TokenTypeAccess {
		if tok.AccessToken == "" {
			return "", nil, fmt.Errorf("%w: no access_token in response", ErrTokenExchange)
		}
		accessClaims, err := f.tokens.Verify(ctx, tok.AccessToken)
		if err != nil {
			return "", nil, err
		}
		return tok.AccessToken, accessClaims, nil
	}

	if idToken == "" {
		return "", nil, fmt.Errorf("%w: no id_token in response", ErrTokenExchange)
	}
	return idToken, idClaims, nil
}

func (f *Flow) completeImplicit(ctx context.Context, entry *loginstate.Entry, params url.Values) (string, verifier.TokenPayload, error) {
	idToken := params.Get("id_token")
	if idToken == "" {
		return "", nil, fmt.Errorf("%w: no id_token in callback", ErrProviderRejected)
	}

	claims, err := f.idTokens.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", nil, err
	}

	if nonce, _ := claims["nonce"].(string); nonce == "" || nonce != entry.Nonce {
		return "", nil, fmt.Errorf("%w: nonce mismatch", verifier.ErrInvalidToken)
	}
	if err := f.nonces.Redeem(ctx, entry.Nonce); err != nil {
		return "", nil, fmt.Errorf("%w: %w", verifier.ErrInvalidToken, err)
	}

	if f.cfg.TokenType == TokenTypeAccess {
		accessToken := params.Get("access_token")
		if accessToken == "" {
			return "", nil, fmt.Errorf("%w: no access_token in callback", ErrProviderRejected)
		}
		// the browser posted it, so it must be bound to the verified ID token and checked like a bearer token
		if err := checkAccessTokenHash(idToken, claims, accessToken); err != nil {
			return "", nil, fmt.Errorf("%w: %w", verifier.ErrInvalidToken, err)
		}
		accessClaims, err := f.tokens.Verify(ctx, accessToken)
		if err != nil {
			return "", nil, err
		}
		return accessToken, accessClaims, nil
	}
	return idToken, claims, nil
}
