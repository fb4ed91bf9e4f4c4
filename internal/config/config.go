// Package config loads runtime settings from PORTA_* environment
// variables. Command-line flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration.
type Config struct {
	// DBPath is the local SQLite state file.
	DBPath string `env:"PORTA_DB" envDefault:"porta.db"`

	// RemoteURL selects the remote document store: a ws:// or wss:// URL
	// for the document server, or postgres:// for direct access. Empty
	// means offline.
	RemoteURL string `env:"PORTA_REMOTE"`
	UserID    string `env:"PORTA_USER"`
	Token     string `env:"PORTA_TOKEN"`

	JWTSecret   string `env:"PORTA_JWT_SECRET"`
	JWTIssuer   string `env:"PORTA_JWT_ISSUER" envDefault:"porta"`
	PostgresDSN string `env:"PORTA_POSTGRES_DSN"`
	ListenAddr  string `env:"PORTA_LISTEN" envDefault:":8787"`

	Debounce         time.Duration `env:"PORTA_DEBOUNCE"          envDefault:"300ms"`
	WatchdogInterval time.Duration `env:"PORTA_WATCHDOG_INTERVAL" envDefault:"15m"`
	ContractDuration time.Duration `env:"PORTA_CONTRACT_DURATION" envDefault:"3m"`

	// CatalogPath and TuningPath replace the embedded task catalog and
	// generator tuning.
	CatalogPath string `env:"PORTA_CATALOG"`
	TuningPath  string `env:"PORTA_TUNING"`

	LogLevel string `env:"PORTA_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("PORTA_DB must not be empty"))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("PORTA_DEBOUNCE must not be negative"))
	}
	if c.WatchdogInterval <= 0 {
		errs = append(errs, errors.New("PORTA_WATCHDOG_INTERVAL must be positive"))
	}
	if c.ContractDuration <= 0 {
		errs = append(errs, errors.New("PORTA_CONTRACT_DURATION must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RemoteURL != "" && RemoteKind(c.RemoteURL) == "" {
		errs = append(errs, fmt.Errorf("PORTA_REMOTE: unsupported scheme in %q", c.RemoteURL))
	}
	return errors.Join(errs...)
}

// Remote kinds returned by RemoteKind.
const (
	RemoteWebSocket = "ws"
	RemotePostgres  = "postgres"
)

// RemoteKind classifies a remote URL by scheme, or returns "".
func RemoteKind(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "ws", "wss":
		return RemoteWebSocket
	case "postgres", "postgresql":
		return RemotePostgres
	default:
		return ""
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("PORTA_LOG_LEVEL: %w", err)
	}
	return l, nil
}

