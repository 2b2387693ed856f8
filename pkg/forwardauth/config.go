package forwardauth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/authz"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/login"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/loginstate"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/gematik/zero-lab/go/forwardauth/pkg/verifier"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	StateStoreMemory = "memory"
	StateStoreValkey = "valkey"

	DefaultAddress      = ":4181"
	DefaultCallbackPath = "/_oauth"
	DefaultCookieName   = "_forward_auth"
	DefaultSessionAge   = 15 * time.Minute
)

type Config struct {
	Address               string             `yaml:"address" validate:"required"`
	Environment           string             `yaml:"environment" validate:"oneof=development production"`
	HostURI               string             `yaml:"host_uri" validate:"omitempty,url"`
	AllowUnsecuredOptions bool               `yaml:"allow_unsecured_options"`
	OIDC                  OIDCConfig         `yaml:"oidc"`
	Verification          VerificationConfig `yaml:"verification"`
	Authorization         authz.Policy       `yaml:"authorization"`
	Login                 LoginConfig        `yaml:"login"`
	Cache                 CacheConfig        `yaml:"cache"`
	HTTP                  HTTPConfig         `yaml:"http"`
	Metrics               MetricsConfig      `yaml:"metrics"`
}

type OIDCConfig struct {
	Issuer       string            `yaml:"issuer" validate:"required,url"`
	ClientID     string            `yaml:"client_id" validate:"required"`
	ClientSecret oidc.SecretString `yaml:"client_secret"`
	Scopes       []string          `yaml:"scopes"`
}

type VerificationConfig struct {
	Mode           verifier.Mode `yaml:"mode" validate:"oneof=jwt introspection"`
	StrictAudience bool          `yaml:"strict_audience"`
}

type LoginConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Flow         login.FlowType  `yaml:"flow" validate:"oneof=code implicit"`
	CallbackPath string          `yaml:"callback_path" validate:"startswith=/,ne=/"`
	TokenType    login.TokenType `yaml:"token_type" validate:"oneof=id_token access_token"`
	StateTTL     time.Duration   `yaml:"state_ttl" validate:"gt=0"`
	StateStore   string          `yaml:"state_store" validate:"oneof=memory valkey"`
	Valkey       ValkeyConfig    `yaml:"valkey"`
	Session      SessionConfig   `yaml:"session"`
}

type ValkeyConfig struct {
	Address  string            `yaml:"address"`
	Username string            `yaml:"username"`
	Password oidc.SecretString `yaml:"password"`
	UseTLS   bool              `yaml:"use_tls"`
}

type SessionConfig struct {
	CookieName string            `yaml:"cookie_name" validate:"required"`
	Domain     string            `yaml:"domain"`
	Secret     oidc.SecretString `yaml:"secret"`
	MaxAge     time.Duration     `yaml:"max_age" validate:"gt=0"`
}

type CacheConfig struct {
	MetadataTTL time.Duration `yaml:"metadata_ttl" validate:"gt=0"`
	JwksTTL     time.Duration `yaml:"jwks_ttl" validate:"gt=0"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// DefaultConfig returns the configuration used for every key missing from the file.
func DefaultConfig() Config {
	return Config{
		Address:     DefaultAddress,
		Environment: EnvironmentProduction,
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "profile", "email"},
		},
		Verification: VerificationConfig{
			Mode: verifier.ModeJWT,
		},
		Login: LoginConfig{
			Flow:         login.FlowCode,
			CallbackPath: DefaultCallbackPath,
			TokenType:    login.TokenTypeID,
			StateTTL:     loginstate.DefaultTTL,
			StateStore:   StateStoreMemory,
			Session: SessionConfig{
				CookieName: DefaultCookieName,
				MaxAge:     DefaultSessionAge,
			},
		},
		Cache: CacheConfig{
			MetadataTTL: oidc.DefaultMetadataTTL,
			JwksTTL:     oidc.DefaultJwksTTL,
		},
		HTTP: HTTPConfig{
			Timeout: oidc.DefaultHTTPTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// RedirectURI is where the provider sends the browser back to.
func (c *Config) RedirectURI() string {
	return strings.TrimRight(c.HostURI, "/") + c.Login.CallbackPath
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// Validate checks field constraints and the rules spanning several sections.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		return name
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	var errs []error
	if c.Login.Enabled {
		if c.HostURI == "" {
			errs = append(errs, errors.New("host_uri is required when login is enabled"))
		} else if u, err := url.Parse(c.HostURI); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("host_uri %q is not an absolute URL", c.HostURI))
		}
		if len(c.Login.Session.Secret.Value()) < 16 {
			errs = append(errs, errors.New("login.session.secret must have at least 16 characters"))
		}
		if c.Login.StateStore == StateStoreValkey && c.Login.Valkey.Address == "" {
			errs = append(errs, errors.New("login.valkey.address is required for the valkey state store"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// ParseConfig expands ${VAR} references, applies defaults and validates.
func ParseConfig(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return ParseConfig(data)
}
