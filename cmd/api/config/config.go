package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Env               string
	LogLevel          string
	HTTP              HTTPConfig
	Storage           StorageConfig
	OpenLibrary       OpenLibraryConfig
	EnrichmentEnabled bool
	Notifications     NotificationsConfig
}

type HTTPConfig struct {
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	// Driver is one of postgres, pgx, sqlite or memory.
	Driver  string
	URL     string
	Migrate bool
}

type OpenLibraryConfig struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

/*
Returns the longest a single provider lookup can take: every attempt running
into its timeout, plus the backoff slept between attempts.
*/
func (c OpenLibraryConfig) WorstCase() time.Duration {
	total := time.Duration(c.MaxRetries) * c.Timeout
	wait := c.Backoff
	for a := 0; a < c.MaxRetries-1; a++ {
		if c.MaxBackoff > 0 && wait > c.MaxBackoff {
			wait = c.MaxBackoff
		}
		total += wait
		wait *= 2
	}
	return total
}

type NotificationsConfig struct {
	Enabled bool
	BaseURL string
	Topic   string
	Timeout time.Duration
}

func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}

/*
Loads the given .env files (".env" when none is given) into the process
environment, without overriding variables already set, and reads the config.
Missing files are not an error.
*/
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return FromEnv()
}

// FromEnv reads the configuration from environment variables, applying defaults.
func FromEnv() (Config, error) {
	r := reader{}
	cfg := Config{
		Env:      r.oneOf("APP_ENV", EnvDevelopment, EnvDevelopment, EnvStaging, EnvProduction),
		LogLevel: r.str("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Port:            r.integer("HTTP_PORT", 8080),
			RequestTimeout:  r.duration("HTTP_REQUEST_TIMEOUT", 5*time.Second),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Driver:  r.oneOf("STORAGE_DRIVER", "postgres", "postgres", "pgx", "sqlite", "memory"),
			URL:     r.str("DATABASE_URL", ""),
			Migrate: r.boolean("DATABASE_MIGRATE", true),
		},
		OpenLibrary: OpenLibraryConfig{
			BaseURL:           r.str("OPENLIBRARY_BASE_URL", "https://openlibrary.org"),
			Timeout:           r.duration("OPENLIBRARY_TIMEOUT", time.Second),
			MaxRetries:        r.integer("OPENLIBRARY_MAX_RETRIES", 3),
			Backoff:           r.duration("OPENLIBRARY_BACKOFF", 200*time.Millisecond),
			MaxBackoff:        r.duration("OPENLIBRARY_MAX_BACKOFF", 0),
			RequestsPerSecond: r.float("OPENLIBRARY_RPS", 0),
			UserAgent:         r.str("OPENLIBRARY_USER_AGENT", "library-catalog/1.0"),
		},
		EnrichmentEnabled: r.boolean("ENRICHMENT_ENABLED", true),
		Notifications: NotificationsConfig{
			Enabled: r.boolean("NOTIFICATIONS_ENABLED", false),
			BaseURL: r.str("NOTIFICATIONS_BASE_URL", "https://ntfy.sh"),
			Topic:   r.str("NOTIFICATIONS_TOPIC", "library-catalog"),
			Timeout: r.duration("NOTIFICATIONS_TIMEOUT", 5*time.Second),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}

	if cfg.Storage.Driver != "memory" && cfg.Storage.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for storage driver %q", cfg.Storage.Driver)
	}
	if cfg.OpenLibrary.MaxRetries < 1 {
		return Config{}, fmt.Errorf("OPENLIBRARY_MAX_RETRIES must be at least 1, got %d", cfg.OpenLibrary.MaxRetries)
	}
	if worst := cfg.OpenLibrary.WorstCase(); cfg.EnrichmentEnabled && worst >= cfg.HTTP.RequestTimeout {
		return Config{}, fmt.Errorf("a provider lookup can take up to %s, which does not fit in HTTP_REQUEST_TIMEOUT %s", worst, cfg.HTTP.RequestTimeout)
	}
	return cfg, nil
}

// reader collects the first parsing error so FromEnv can read every variable in one pass.
type reader struct {
	err error
}

func (r *reader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func (r *reader) str(key, def string) string {
	if value, ok := r.lookup(key); ok {
		return value
	}
	return def
}

func (r *reader) oneOf(key, def string, allowed ...string) string {
	value := r.str(key, def)
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	r.fail(key, value, fmt.Errorf("must be one of %v", allowed))
	return def
}

func (r *reader) integer(key string, def int) int {
	value, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	value, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		r.fail(key, value, errors.New("must be a non-negative number"))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	value, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, value, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		r.fail(key, value, errors.New("must be a non-negative duration such as 500ms or 10s"))
		return def
	}
	return d
}
