package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Defaults for the request pipeline
const (
	DefaultTimeout      = 30 * time.Second
	DefaultAPIPrefix    = "/api/v1"
	DefaultRefreshPath  = "/auth/refresh"
	DevelopmentBaseURL  = "http://localhost:8080"
	ModeDevelopment     = "development"
	ModeProduction      = "production"
	RequestIDHeader     = "X-Request-Id"
	defaultContentType  = "application/json"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// Config is the environment-driven configuration of a client.
type Config struct {
	// APIURL overrides every other base URL source
	APIURL string `env:"STOREFRONT_API_URL"`

	// Origin is the same-origin host used in production, where a reverse proxy
	// forwards the API prefix to the backend
	Origin string `env:"STOREFRONT_ORIGIN"`

	// Mode is "development" or "production"
	Mode string `env:"STOREFRONT_MODE,default=development"`

	Timeout time.Duration `env:"STOREFRONT_API_TIMEOUT,default=30s"`

	// CredentialsPath is where durable stores keep their data. Empty means the user config dir.
	CredentialsPath string `env:"STOREFRONT_CREDENTIALS"`

	// Store selects the credential store: "file", "sqlite" or "memory"
	Store string `env:"STOREFRONT_STORE,default=file"`
}

// LoadConfig reads the configuration from the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Store == "" {
		c.Store = "file"
	}
}

// BaseURL resolves the backend base URL: an explicit override wins, then the
// development default, then the same-origin host.
func (c *Config) BaseURL() string {
	if u := strings.TrimSpace(c.APIURL); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	if c.Mode != ModeProduction {
		return DevelopmentBaseURL
	}
	return strings.TrimSuffix(strings.TrimSpace(c.Origin), "/")
}
