package forwardauth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/loginstate"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/sessionstore"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/valkey-io/valkey-go"
)

const ServiceName = "zero-forward-auth"

var Version = "0.1.0"

type Server struct {
	Config   *Config
	Metadata *oidc.MetadataCache
	Metrics  *Metrics
	engine   *Engine
	echo     *echo.Echo
	valkey   valkey.Client
}

// New performs the startup checks and wires all components. Any error means the service must not start.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	metrics := NewMetrics()
	httpClient := &http.Client{
		Timeout:   cfg.HTTP.Timeout,
		Transport: metrics.InstrumentTransport(http.DefaultTransport),
	}

	metadata := oidc.NewMetadataCache(cfg.OIDC.Issuer, oidc.MetadataCacheOptions{
		MetadataTTL: cfg.Cache.MetadataTTL,
		JwksTTL:     cfg.Cache.JwksTTL,
		HTTPClient:  httpClient,
	})

	s := &Server{
		Config:   cfg,
		Metadata: metadata,
		Metrics:  metrics,
	}

	if err := s.checkProvider(ctx); err != nil {
		return nil, err
	}

	v, err := verifier.New(cfg.Verification.Mode, metadata, verifier.Options{
		ClientID:       cfg.OIDC.ClientID,
		ClientSecret:   cfg.OIDC.ClientSecret,
		StrictAudience: cfg.Verification.StrictAudience,
	})
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}

	s.engine = &Engine{
		verifier:              v,
		policy:                cfg.Authorization,
		callbackPath:          cfg.Login.CallbackPath,
		allowUnsecuredOptions: cfg.AllowUnsecuredOptions,
		metrics:               metrics,
		info: Info{
			Service:          ServiceName,
			Version:          Version,
			Address:          cfg.Address,
			HostURI:          cfg.HostURI,
			Issuer:           cfg.OIDC.Issuer,
			ClientID:         cfg.OIDC.ClientID,
			VerificationMode: string(v.Mode()),
			LoginEnabled:     cfg.Login.Enabled,
		},
	}
	if !cfg.IsProduction() {
		s.engine.info.Environment = cfg.Environment
	}

	if cfg.Login.Enabled {
		if err := s.setupLogin(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.echo = s.newEcho()
	return s, nil
}

func (s *Server) checkProvider(ctx context.Context) error {
	endpoints, err := s.Metadata.ProviderEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("startup discovery: %w", err)
	}
	slog.Info("Discovered identity provider", "issuer", endpoints.Issuer, "introspection", endpoints.SupportsIntrospection())

	switch s.Config.Verification.Mode {
	case verifier.ModeIntrospection:
		if err := s.Metadata.CheckIntrospectionSupported(ctx); err != nil {
			return fmt.Errorf("startup check: %w", err)
		}
	default:
		// keys may still be rotated in later, bearer requests fail until then
		if _, err := s.Metadata.JwkKeys(ctx); err != nil {
			slog.Warn("Provider keys not available at startup", "error", err)
		}
	}
	return nil
}

func (s *Server) setupLogin(ctx context.Context) error {
	cfg := s.Config

	var states loginstate.Store
	var nonces login.NonceService
	var tokens sessionstore.Store
	switch cfg.Login.StateStore {
	case StateStoreValkey:
		client, err := newValkeyClient(cfg.Login.Valkey)
		if err != nil {
			return fmt.Errorf("create valkey client: %w", err)
		}
		s.valkey = client
		store := loginstate.NewValkeyStore(client, cfg.Login.StateTTL)
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("valkey not reachable: %w", err)
		}
		states = store
		nonces = login.NewValkeyNonceService(client, cfg.Login.StateTTL)
		tokens = sessionstore.NewValkeyStore(client, cfg.Login.Session.MaxAge)
	default:
		states = loginstate.NewMemoryStore(cfg.Login.StateTTL)
		tokens = sessionstore.NewMemoryStore(cfg.Login.Session.MaxAge)
		hashicorpNonces, err := login.NewHashicorpNonceService()
		if err != nil {
			return err
		}
		nonces = hashicorpNonces
	}

	flow, err := login.NewFlow(login.Config{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURI:  cfg.RedirectURI(),
		Scopes:       cfg.OIDC.Scopes,
		Flow:         cfg.Login.Flow,
		TokenType:    cfg.Login.TokenType,
		Policy:       cfg.Authorization,
	}, s.Metadata, s.engine.verifier, states, nonces)
	if err != nil {
		return fmt.Errorf("create login flow: %w", err)
	}

	s.engine.flow = flow
	s.engine.sessions = NewSessionStore(cfg.Login.Session, tokens)
	slog.Info("Login on demand enabled", "flow", cfg.Login.Flow, "redirect_uri", cfg.RedirectURI(), "state_store", cfg.Login.StateStore)
	return nil
}

func newValkeyClient(cfg ValkeyConfig) (valkey.Client, error) {
	option := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		Username:    cfg.Username,
		Password:    cfg.Password.Value(),
		// nothing is read through DoCache, tracking would only cost a round trip
		DisableCache: true,
	}
	if cfg.UseTLS {
		option.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return valkey.NewClient(option)
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogMethod:  true,
		LogURI:     true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"forwarded_host", c.Request().Header.Get(HeaderForwardedHost),
				"forwarded_uri", c.Request().Header.Get(HeaderForwardedURI),
			)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Config.Metrics.Enabled {
		e.GET(s.Config.Metrics.Path, echo.WrapHandler(s.Metrics.Handler()))
	}

	var mw []echo.MiddlewareFunc
	if s.engine.sessions != nil {
		mw = append(mw, s.engine.sessions.Middleware())
		e.GET(s.Config.Login.CallbackPath, s.engine.Callback, mw...)
		e.POST(s.Config.Login.CallbackPath, s.engine.Callback, mw...)
	}
	e.Any("/", s.engine.Check, mw...)

	return e
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Routes() []*echo.Route {
	return s.echo.Routes()
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.Config.Address,
		Handler:      s.echo,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: s.Config.HTTP.Timeout + 5*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	slog.Info("Forward auth listening", "address", s.Config.Address)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() {
	if s.valkey != nil {
		s.valkey.Close()
	}
}
