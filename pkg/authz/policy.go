package authz

import (
	"errors"
	"fmt"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
)

var (
	ErrTokenInactive = errors.New("token is not active")
	ErrAccessDenied  = errors.New("access denied")
)

// Policy requires RoleName to be present in the string array found at RolesPath.
// A policy with an empty path or role permits every active token.
type Policy struct {
	RolesPath string `yaml:"roles_path"`
	RoleName  string `yaml:"role_name"`
}

func (p Policy) Enabled() bool {
	return p.RolesPath != "" && p.RoleName != ""
}

func (p Policy) Authorize(payload verifier.TokenPayload) error {
	if active, present := payload.Active(); present && !active {
		return ErrTokenInactive
	}

	if !p.Enabled() {
		return nil
	}

	value, ok := payload.Lookup(p.RolesPath)
	if !ok {
		return fmt.Errorf("%w: no roles at %s", ErrAccessDenied, p.RolesPath)
	}

	for _, role := range roles(value) {
		if role == p.RoleName {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s missing", ErrAccessDenied, p.RoleName)
}

func roles(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
