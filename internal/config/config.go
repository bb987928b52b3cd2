// Package config loads the service configuration from the environment.
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// Config holds the runtime configuration of the signly server.
type Config struct {
	Env        string
	ListenAddr string
	BaseURL    string

	// FrontendURL is where the OAuth callback redirects the browser.
	FrontendURL string

	Session struct {
		JWTSecret string
	}

	State struct {
		Secret string
	}

	OAuth struct {
		ClientID       string
		ClientSecret   string
		RedirectURI    string
		SecretProject  string // GCP project for Secret Manager
		SecretName     string // Secret Manager secret holding the OAuth client JSON
		CredentialFile string // Local OAuth client JSON (fallback)
	}

	FirestoreProject string
	DevUsers         []string

	PrometheusEnabled bool
	TrustedProxies    []string
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(cfg.TrustedProxies) == 0 {
		log.Println("WARNING: No APP_TRUSTED_PROXIES configured. Forwarding headers are ignored for rate limiting.")
	}
	if cfg.FirestoreProject == "" {
		log.Println("WARNING: No FIRESTORE_PROJECT configured. Users are kept in memory and lost on restart.")
	}

	return cfg, nil
}

// Read loads the configuration from environment variables without validating it.
func Read() *Config {
	cfg := &Config{}

	cfg.Env = getenvDefault("APP_ENV", "production")
	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = strings.TrimRight(getenvDefault("APP_BASE_URL", "http://localhost:8080"), "/")
	cfg.FrontendURL = strings.TrimRight(getenvDefault("FRONTEND_URL", "http://localhost:3000"), "/")

	cfg.Session.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.State.Secret = os.Getenv("STATE_SECRET")

	cfg.OAuth.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.OAuth.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.OAuth.RedirectURI = getenvDefault("GOOGLE_REDIRECT_URI", cfg.BaseURL+"/calendar/oauth/callback")
	cfg.OAuth.SecretProject = os.Getenv("OAUTH_SECRET_PROJECT")
	cfg.OAuth.SecretName = os.Getenv("OAUTH_SECRET_NAME")
	cfg.OAuth.CredentialFile = os.Getenv("OAUTH_CREDENTIALS_FILE")

	cfg.FirestoreProject = os.Getenv("FIRESTORE_PROJECT")
	cfg.DevUsers = getenvList("APP_DEV_USERS")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	return cfg
}

// Validate checks that the required settings are present.
func (c *Config) Validate() error {
	if err := c.ValidateSecrets(); err != nil {
		return err
	}
	if !c.HasOAuthSource() {
		return errors.New("oauth client configuration is required: set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET, OAUTH_SECRET_PROJECT and OAUTH_SECRET_NAME, or OAUTH_CREDENTIALS_FILE")
	}
	if c.FrontendURL == "" {
		return errors.New("FRONTEND_URL is required")
	}
	return nil
}

// ValidateSecrets checks the signing secrets only. It is enough for commands
// that mint or inspect tokens offline.
func (c *Config) ValidateSecrets() error {
	if c.Session.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Session.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long (got %d)", len(c.Session.JWTSecret))
	}
	if c.State.Secret != "" && len(c.State.Secret) < 32 {
		return fmt.Errorf("STATE_SECRET must be at least 32 characters long (got %d)", len(c.State.Secret))
	}
	return nil
}

// HasOAuthSource reports whether at least one OAuth client credential source is configured.
func (c *Config) HasOAuthSource() bool {
	if c.OAuth.ClientID != "" && c.OAuth.ClientSecret != "" {
		return true
	}
	if c.OAuth.SecretProject != "" && c.OAuth.SecretName != "" {
		return true
	}
	return c.OAuth.CredentialFile != ""
}

// IsDevelopment reports whether detailed error messages may be returned to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// StateKey returns the HMAC key used to sign OAuth state tokens.
// Without STATE_SECRET the key is derived from the session secret so the two are never equal.
func (c *Config) StateKey() []byte {
	if c.State.Secret != "" {
		return []byte(c.State.Secret)
	}
	sum := sha256.Sum256([]byte("oauth-state:" + c.Session.JWTSecret))
	return sum[:]
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
