package login

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

var errAccessTokenHash = errors.New("at_hash does not match access token")

// checkAccessTokenHash binds an access token delivered next to an ID token to that ID token (OIDC Core 3.2.2.9).
func checkAccessTokenHash(idToken string, idClaims verifier.TokenPayload, accessToken string) error {
	expected, _ := idClaims["at_hash"].(string)
	if expected == "" {
		return fmt.Errorf("%w: id_token carries no at_hash", errAccessTokenHash)
	}

	msg, err := jws.Parse([]byte(idToken))
	if err != nil {
		return fmt.Errorf("parse id_token header: %w", err)
	}
	if len(msg.Signatures()) == 0 {
		return errors.New("id_token is not signed")
	}

	var hash crypto.Hash
	switch msg.Signatures()[0].ProtectedHeaders().Algorithm() {
	case jwa.RS256, jwa.PS256, jwa.ES256:
		hash = crypto.SHA256
	case jwa.RS384, jwa.PS384, jwa.ES384:
		hash = crypto.SHA384
	case jwa.RS512, jwa.PS512, jwa.ES512:
		hash = crypto.SHA512
	default:
		return fmt.Errorf("%w: unsupported id_token algorithm", errAccessTokenHash)
	}

	h := hash.New()
	h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	if base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]) != expected {
		return errAccessTokenHash
	}
	return nil
}
