package verifier

import "strings"

// TokenPayload holds the claims of a verified JWT or the body of an introspection response.
type TokenPayload map[string]any

// Active returns the introspection "active" member and whether it was present at all.
func (p TokenPayload) Active() (active bool, present bool) {
	v, ok := p["active"]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		return false, true
	}
	return b, true
}

// Lookup resolves a dot separated path like "resource_access.app.roles".
func (p TokenPayload) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(p)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (p TokenPayload) Subject() string {
	s, _ := p["sub"].(string)
	return s
}
