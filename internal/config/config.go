// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/homeboard/internal/poll"
)

// Cache store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Timezone decides what "today" means for cache keys.
	Timezone string `env:"DASH_TIMEZONE" envDefault:"America/New_York"`

	Store         string        `env:"CACHE_STORE" envDefault:"memory"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"homeboard.db"`
	FileDir       string        `env:"CACHE_DIR"`
	Retention     time.Duration `env:"CACHE_RETENTION" envDefault:"168h"`
	PurgeInterval time.Duration `env:"CACHE_PURGE_INTERVAL" envDefault:"1h"`
	SingleFlight  bool          `env:"CACHE_SINGLE_FLIGHT" envDefault:"true"`
	// WarmInterval is how often the worker pre-fetches today's lines; 0 disables it.
	WarmInterval time.Duration `env:"CACHE_WARM_INTERVAL" envDefault:"30m"`

	RedisAddr string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Sports    []string `env:"SPORTS" envDefault:"nhl,nba,nfl,mlb" envSeparator:","`

	ESPN   ESPNConfig   `envPrefix:"ESPN_"`
	Quotes QuotesConfig `envPrefix:"QUOTES_"`
	Poll   PollConfig   `envPrefix:"POLL_"`
}

// ESPNConfig holds the scoreboard upstream settings
type ESPNConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://site.api.espn.com"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

// QuotesConfig holds the quote upstream and cache settings
type QuotesConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://query1.finance.yahoo.com"`
	Symbols []string      `env:"SYMBOLS" envDefault:"^GSPC,^DJI,^IXIC" envSeparator:","`
	TTL     time.Duration `env:"TTL" envDefault:"5m"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// PollConfig holds the adaptive polling client settings
type PollConfig struct {
	APIURL  string        `env:"API_URL" envDefault:"http://localhost:8080"`
	Regular time.Duration `env:"REGULAR" envDefault:"5m"`
	Pre     time.Duration `env:"PRE" envDefault:"15m"`
	Post    time.Duration `env:"POST" envDefault:"15m"`
	Closed  time.Duration `env:"CLOSED" envDefault:"60m"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Intervals converts the poll settings for the controller.
func (p PollConfig) Intervals() poll.Intervals {
	return poll.Intervals{Regular: p.Regular, Pre: p.Pre, Post: p.Post, Closed: p.Closed}
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	for i, s := range cfg.Sports {
		cfg.Sports[i] = strings.ToLower(strings.TrimSpace(s))
	}
	symbols := cfg.Quotes.Symbols[:0]
	for _, s := range cfg.Quotes.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	cfg.Quotes.Symbols = symbols
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location returns the reference timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Level returns the zerolog level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid DASH_TIMEZONE %q: %w", c.Timezone, err)
	}
	switch c.Store {
	case StoreMemory, StoreFile, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CACHE_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid CACHE_STORE %q: want memory, file, sqlite or postgres", c.Store)
	}
	if len(c.Sports) == 0 {
		return fmt.Errorf("SPORTS must list at least one sport")
	}
	if len(c.Quotes.Symbols) == 0 {
		return fmt.Errorf("QUOTES_SYMBOLS must list at least one symbol")
	}

	if c.WarmInterval < 0 {
		return fmt.Errorf("CACHE_WARM_INTERVAL must not be negative, got %s", c.WarmInterval)
	}

	durations := map[string]time.Duration{
		"CACHE_RETENTION":      c.Retention,
		"CACHE_PURGE_INTERVAL": c.PurgeInterval,
		"QUOTES_TTL":           c.Quotes.TTL,
		"POLL_REGULAR":         c.Poll.Regular,
		"POLL_PRE":             c.Poll.Pre,
		"POLL_POST":            c.Poll.Post,
		"POLL_CLOSED":          c.Poll.Closed,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
