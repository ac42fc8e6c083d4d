// Package config loads Poesy settings from an optional YAML file and the
// environment. Environment variables win over the file; unset values fall
// back to defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Prefix is the environment variable prefix, e.g. POESY_BASE_URL.
const Prefix = "POESY"

// Config holds all client and dev server settings.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" yaml:"environment"`
	LogLevel    string `envconfig:"LOG_LEVEL" yaml:"log_level"`

	// Client
	BaseURL        string        `envconfig:"BASE_URL" yaml:"base_url"`
	StorePath      string        `envconfig:"STORE_PATH" yaml:"store_path"`
	Ephemeral      bool          `envconfig:"EPHEMERAL" yaml:"ephemeral"` // in-memory store, nothing persisted
	RefreshWindow  time.Duration `envconfig:"REFRESH_WINDOW" yaml:"refresh_window"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" yaml:"request_timeout"`
	LogoutTimeout  time.Duration `envconfig:"LOGOUT_TIMEOUT" yaml:"logout_timeout"`
	RetryAttempts  int           `envconfig:"RETRY_ATTEMPTS" yaml:"retry_attempts"`
	DraftCapacity  int           `envconfig:"DRAFT_CAPACITY" yaml:"draft_capacity"`

	// Dev server
	DevServerAddr string        `envconfig:"DEVSERVER_ADDR" yaml:"devserver_addr"`
	DevJWTSecret  string        `envconfig:"DEVSERVER_JWT_SECRET" yaml:"devserver_jwt_secret"`
	DevTokenTTL   time.Duration `envconfig:"DEVSERVER_TOKEN_TTL" yaml:"devserver_token_ttl"`

	// Sign-in rate limit per client IP; negative disables it.
	DevRateLimitRPS   int `envconfig:"DEVSERVER_RATE_LIMIT_RPS" yaml:"devserver_rate_limit_rps"`
	DevRateLimitBurst int `envconfig:"DEVSERVER_RATE_LIMIT_BURST" yaml:"devserver_rate_limit_burst"`

	// Comma-separated CORS allow list; empty disables CORS.
	DevCORSOrigins string `envconfig:"DEVSERVER_CORS_ORIGINS" yaml:"devserver_cors_origins"`
}

// Default values.
const (
	DefaultEnvironment    = "production"
	DefaultLogLevel       = "info"
	DefaultBaseURL        = "http://localhost:8787"
	DefaultRefreshWindow  = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultLogoutTimeout  = 5 * time.Second
	DefaultRetryAttempts  = 3
	DefaultDraftCapacity  = 32
	DefaultDevServerAddr  = ":8787"
	DefaultDevJWTSecret   = "poesy-dev-secret"
	DefaultDevTokenTTL    = 15 * time.Minute
	DefaultDevRateLimit   = 5
	DefaultDevRateBurst   = 10
)

// IsDevelopment reports whether the environment is "development".
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q: %w", c.LogLevel, err))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.DraftCapacity < 1 {
		errs = append(errs, fmt.Errorf("draft_capacity must be at least 1, got %d", c.DraftCapacity))
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path (skipped when path is empty), then the
// POESY_* environment, then fills defaults and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := parseYAML(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return finish(&cfg)
}

// LoadBytes is Load for an in-memory YAML document.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := parseYAML(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg)
}

// FileFromEnv returns the config file named by POESY_CONFIG, if any.
func FileFromEnv() string {
	return os.Getenv(Prefix + "_CONFIG")
}

func finish(cfg *Config) (*Config, error) {
	// No default tags on Config: envconfig leaves unset fields alone, so file
	// values survive and applyDefaults fills the rest.
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	return yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg)
}

// applyDefaults fills in zero-value fields.
func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = DefaultEnvironment
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.StorePath == "" && !cfg.Ephemeral {
		cfg.StorePath = DefaultStorePath()
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = DefaultLogoutTimeout
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.DraftCapacity == 0 {
		cfg.DraftCapacity = DefaultDraftCapacity
	}
	if cfg.DevServerAddr == "" {
		cfg.DevServerAddr = DefaultDevServerAddr
	}
	if cfg.DevJWTSecret == "" {
		cfg.DevJWTSecret = DefaultDevJWTSecret
	}
	if cfg.DevTokenTTL <= 0 {
		cfg.DevTokenTTL = DefaultDevTokenTTL
	}
	if cfg.DevRateLimitRPS == 0 {
		cfg.DevRateLimitRPS = DefaultDevRateLimit
	}
	if cfg.DevRateLimitBurst == 0 {
		cfg.DevRateLimitBurst = DefaultDevRateBurst
	}
}

// DefaultStorePath is poesy/poesy.db under the user config directory, or in
// the working directory when that is unknown.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "poesy.db"
	}
	return filepath.Join(dir, "poesy", "poesy.db")
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value. Missing
// vars become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
