package forwardauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/authz"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
)

// Error is the JSON body returned to the proxy. Descriptions never carry provider details.
type Error struct {
	HttpStatus  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (code=%s)", e.Description, e.Code)
}

var ErrMalformedAuthorization = Error{
	HttpStatus:  http.StatusUnauthorized,
	Code:        "invalid_request",
	Description: "Malformed Authorization header",
}

var ErrUnauthenticated = Error{
	HttpStatus:  http.StatusUnauthorized,
	Code:        "unauthorized",
	Description: "No credentials in request",
}

var ErrLoginRequired = Error{
	HttpStatus:  http.StatusUnauthorized,
	Code:        "login_required",
	Description: "Code expired, please login again",
}

var ErrServer = Error{
	HttpStatus:  http.StatusInternalServerError,
	Code:        "server_error",
	Description: "Request could not be processed",
}

func ErrorAccessDenied(description string) Error {
	return Error{
		HttpStatus:  http.StatusForbidden,
		Code:        "access_denied",
		Description: description,
	}
}

func errorInvalidToken() Error {
	return Error{
		HttpStatus:  http.StatusForbidden,
		Code:        "invalid_token",
		Description: "Token verification failed",
	}
}

func isProviderError(err error) bool {
	return errors.Is(err, oidc.ErrDiscovery) ||
		errors.Is(err, oidc.ErrJwks) ||
		errors.Is(err, verifier.ErrIntrospection)
}

// bearerError maps failures of the bearer path. Everything except a malformed header is a 403.
func bearerError(err error) Error {
	var e Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, authz.ErrTokenInactive):
		return ErrorAccessDenied("Token is not active")
	case errors.Is(err, authz.ErrAccessDenied):
		return ErrorAccessDenied("Required role missing")
	default:
		return errorInvalidToken()
	}
}

// loginError maps failures of the login and callback path.
func loginError(err error) Error {
	var e Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, login.ErrMissingState), errors.Is(err, login.ErrCodeExpired):
		return ErrLoginRequired
	case errors.Is(err, authz.ErrTokenInactive):
		return ErrorAccessDenied("Token is not active")
	case errors.Is(err, authz.ErrAccessDenied):
		return ErrorAccessDenied("Required role missing")
	case errors.Is(err, login.ErrProviderRejected):
		return ErrorAccessDenied("Login was rejected")
	case isProviderError(err), errors.Is(err, login.ErrTokenExchange):
		return ErrServer
	case errors.Is(err, verifier.ErrInvalidToken):
		return errorInvalidToken()
	default:
		return ErrServer
	}
}
