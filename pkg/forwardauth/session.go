package forwardauth

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/sessionstore"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

const (
	sessionKeyID        = "sid"
	sessionKeyCreatedAt = "created_at"
)

// SessionStore names the session in an encrypted, signed cookie. The token obtained at login stays server side,
// provider tokens regularly exceed what fits into a cookie.
type SessionStore struct {
	name   string
	store  *sessions.CookieStore
	tokens sessionstore.Store
}

func NewSessionStore(cfg SessionConfig, tokens sessionstore.Store) *SessionStore {
	secret := []byte(cfg.Secret.Value())
	hashKey := sha512.Sum512(secret)
	blockKey := sha256.Sum256(secret)

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cfg.Domain,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(cfg.MaxAge.Seconds()))

	return &SessionStore{name: cfg.CookieName, store: store, tokens: tokens}
}

func (s *SessionStore) Middleware() echo.MiddlewareFunc {
	return session.Middleware(s.store)
}

// Token returns the token of an existing session. Missing, expired or tampered cookies yield no token.
func (s *SessionStore) Token(c echo.Context) (string, bool) {
	sid, ok := s.sessionID(c)
	if !ok {
		return "", false
	}
	token, err := s.tokens.Get(c.Request().Context(), sid)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			slog.Error("Reading session failed", "error", err)
		}
		return "", false
	}
	return token, true
}

func (s *SessionStore) sessionID(c echo.Context) (string, bool) {
	sess, err := session.Get(s.name, c)
	if err != nil {
		slog.Debug("Ignoring unreadable session cookie", "error", err)
		return "", false
	}
	sid, ok := sess.Values[sessionKeyID].(string)
	return sid, ok && sid != ""
}

// Writer returns a login.SessionWriter bound to the current request.
func (s *SessionStore) Writer(c echo.Context, secure bool) *SessionWriter {
	return &SessionWriter{store: s, c: c, secure: secure}
}

type SessionWriter struct {
	store  *SessionStore
	c      echo.Context
	secure bool
}

// Regenerate discards whatever session the request carried and saves a new one holding token.
func (w *SessionWriter) Regenerate(token string) error {
	ctx := w.c.Request().Context()
	if previous, ok := w.store.sessionID(w.c); ok {
		if err := w.store.tokens.Delete(ctx, previous); err != nil {
			slog.Warn("Dropping previous session failed", "error", err)
		}
	}

	sid := ksuid.New().String()
	if err := w.store.tokens.Put(ctx, sid, token); err != nil {
		return err
	}

	sess := sessions.NewSession(w.store.store, w.store.name)
	options := *w.store.store.Options
	options.Secure = w.secure
	sess.Options = &options
	sess.IsNew = true

	sess.Values[sessionKeyID] = sid
	sess.Values[sessionKeyCreatedAt] = time.Now().Unix()

	if err := sess.Save(w.c.Request(), w.c.Response()); err != nil {
		return err
	}
	slog.Debug("Session established", "sid", sid)
	return nil
}
