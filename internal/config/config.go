// Package config loads application configuration from environment
// variables, applies defaults and validates every setting on startup.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Import   ImportConfig
	Backend  BackendConfig
	Database DatabaseConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// ImportConfig holds CSV import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	// Encoding is the source encoding: utf-8, windows-1252 or latin1 (default: utf-8)
	Encoding string `env:"IMPORT_ENCODING" default:"utf-8"`

	// BatchSize is the number of records per backend submission (default: 50)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"50"`

	// RetryBase is the delay before the first batch retry (default: 500ms)
	RetryBase time.Duration `env:"IMPORT_RETRY_BASE" default:"500ms"`

	// RetryFactor multiplies the delay after each retry (default: 2)
	RetryFactor float64 `env:"IMPORT_RETRY_FACTOR" default:"2"`

	// MaxRetries is the number of retries after the first attempt (default: 2)
	MaxRetries int `env:"IMPORT_MAX_RETRIES" default:"2"`

	// MaxNameLength is the rune limit for first and last names (default: 255)
	MaxNameLength int `env:"IMPORT_MAX_NAME_LENGTH" default:"255"`

	// TagDelimiter separates tags inside a single cell (default: |)
	TagDelimiter string `env:"IMPORT_TAG_DELIMITER" default:"|"`

	// SynonymsFile optionally replaces the built-in header synonym table
	SynonymsFile string `env:"IMPORT_SYNONYMS_FILE"`

	// MaxConcurrent is the number of imports allowed to submit at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long an import waits for a submission slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// SessionTTL is how long a finished session stays queryable (default: 15m)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"15m"`
}

// BackendConfig selects where validated subscribers are submitted.
type BackendConfig struct {
	// Kind is one of: http, postgres, log (default: log)
	Kind string `env:"BACKEND_KIND" default:"log"`

	// URL is the subscriber batch endpoint for the http backend
	URL string `env:"BACKEND_URL"`

	// Token is sent as a bearer token to the http backend
	Token string `env:"BACKEND_TOKEN"`

	// Timeout bounds a single batch request (default: 30s)
	Timeout time.Duration `env:"BACKEND_TIMEOUT" default:"30s"`

	// Concurrency is the per-batch fan-out for per-record backends (default: 4)
	Concurrency int `env:"BACKEND_CONCURRENCY" default:"4"`
}

// DatabaseConfig holds database connection settings for the postgres backend.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the number of requests allowed above the sustained rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Name returns Kind lower-cased and trimmed, the form backends are
// selected by.
func (b BackendConfig) Name() string {
	return strings.ToLower(strings.TrimSpace(b.Kind))
}
