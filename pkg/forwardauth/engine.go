package forwardauth

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/authz"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"github.com/labstack/echo/v4"
)

const (
	HeaderForwardedProto  = "X-Forwarded-Proto"
	HeaderForwardedHost   = "X-Forwarded-Host"
	HeaderForwardedURI    = "X-Forwarded-Uri"
	HeaderForwardedMethod = "X-Forwarded-Method"
	HeaderForwardedUser   = "X-Forwarded-User"
)

// labels of the decision metric
const (
	pathOptions  = "options"
	pathBearer   = "bearer"
	pathSession  = "session"
	pathInfo     = "info"
	pathCallback = "callback"
	pathLogin    = "login"
	pathNone     = "none"
)

// Engine answers the reverse proxy: 200 lets the request through, everything else is relayed to the client.
type Engine struct {
	verifier              verifier.Verifier
	policy                authz.Policy
	flow                  *login.Flow
	sessions              *SessionStore
	callbackPath          string
	allowUnsecuredOptions bool
	info                  Info
	metrics               *Metrics
}

// Info describes the running service, answered on <callback>/info for logged in users.
type Info struct {
	Service          string `json:"service"`
	Version          string `json:"serviceVersion"`
	Address          string `json:"serviceAddress"`
	HostURI          string `json:"hostUri,omitempty"`
	Issuer           string `json:"oidcIssuerUrl"`
	ClientID         string `json:"oidcClientId"`
	VerificationMode string `json:"oidcValidationType"`
	LoginEnabled     bool   `json:"loginWhenNoToken,omitempty"`
	Environment      string `json:"environment,omitempty"`
}

func forwardedRequest(r *http.Request) login.ForwardedRequest {
	method := r.Header.Get(HeaderForwardedMethod)
	if method == "" {
		method = r.Method
	}
	return login.ForwardedRequest{
		Proto:  r.Header.Get(HeaderForwardedProto),
		Host:   r.Header.Get(HeaderForwardedHost),
		URI:    r.Header.Get(HeaderForwardedURI),
		Method: method,
	}
}

// parseBearer accepts exactly "<scheme> <token>" with a case-insensitive bearer scheme.
func parseBearer(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Check is the forward auth endpoint.
func (en *Engine) Check(c echo.Context) error {
	fwd := forwardedRequest(c.Request())

	if en.allowUnsecuredOptions && strings.EqualFold(fwd.Method, http.MethodOptions) {
		return en.allow(c, pathOptions)
	}

	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		return en.checkBearer(c, header)
	}

	if en.flow == nil {
		return en.deny(c, pathNone, ErrUnauthenticated, nil)
	}

	forwardedPath, rawQuery, _ := strings.Cut(fwd.URI, "?")

	if _, ok := en.sessions.Token(c); ok {
		if forwardedPath == en.callbackPath+"/info" {
			en.metrics.observeDecision(pathInfo, http.StatusBadRequest)
			// any non-2xx status makes the proxy relay the body instead of the upstream response
			return c.JSON(http.StatusBadRequest, en.info)
		}
		return en.allow(c, pathSession)
	}

	if forwardedPath == en.callbackPath {
		params, err := url.ParseQuery(rawQuery)
		if err != nil {
			return en.deny(c, pathCallback, ErrLoginRequired, err)
		}
		return en.completeCallback(c, params, strings.EqualFold(fwd.Proto, "https"))
	}

	authURL, err := en.flow.BeginLogin(c.Request().Context(), fwd)
	if err != nil {
		return en.deny(c, pathLogin, loginError(err), err)
	}
	en.metrics.observeDecision(pathLogin, http.StatusFound)
	return c.Redirect(http.StatusFound, authURL)
}

// Callback serves the callback path when the provider redirects or posts to the service directly.
func (en *Engine) Callback(c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return en.deny(c, pathCallback, ErrLoginRequired, err)
	}
	return en.completeCallback(c, params, c.Scheme() == "https")
}

func (en *Engine) checkBearer(c echo.Context, header string) error {
	token, ok := parseBearer(header)
	if !ok {
		return en.deny(c, pathBearer, ErrMalformedAuthorization, nil)
	}

	payload, err := en.verifier.Verify(c.Request().Context(), token)
	if err == nil {
		err = en.policy.Authorize(payload)
	}
	if err != nil {
		return en.deny(c, pathBearer, bearerError(err), err)
	}

	if sub := payload.Subject(); sub != "" {
		c.Response().Header().Set(HeaderForwardedUser, sub)
	}
	return en.allow(c, pathBearer)
}

func (en *Engine) completeCallback(c echo.Context, params url.Values, secure bool) error {
	redirect, err := en.flow.CompleteCallback(c.Request().Context(), params, en.sessions.Writer(c, secure))
	if err != nil {
		return en.deny(c, pathCallback, loginError(err), err)
	}
	en.metrics.observeDecision(pathCallback, http.StatusFound)
	return c.Redirect(http.StatusFound, redirect)
}

func (en *Engine) allow(c echo.Context, path string) error {
	en.metrics.observeDecision(path, http.StatusOK)
	return c.NoContent(http.StatusOK)
}

func (en *Engine) deny(c echo.Context, path string, e Error, cause error) error {
	if cause != nil {
		if e.HttpStatus >= http.StatusInternalServerError {
			slog.Error("Forward auth failed", "path", path, "error", cause)
		} else {
			slog.Info("Forward auth denied", "path", path, "status", e.HttpStatus, "error", cause)
		}
	}
	en.metrics.observeDecision(path, e.HttpStatus)
	return c.JSON(e.HttpStatus, e)
}
