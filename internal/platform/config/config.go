// Package config loads jsonreq configuration using koanf.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "JSONREQ_"

// Default configuration values.
const (
	// DefaultClientTimeout bounds a single HTTP attempt.
	DefaultClientTimeout = 30 * time.Second

	// DefaultClientRetryMaxAttempts is the default number of attempts, including the first.
	DefaultClientRetryMaxAttempts = 3

	// DefaultClientRetryMultiplier is the default exponential backoff multiplier.
	DefaultClientRetryMultiplier = 2.0

	// DefaultClientRetryJitterFactor is the default jitter percentage (±25%).
	DefaultClientRetryJitterFactor = 0.25

	// DefaultClientCircuitMaxFailures is the default failures before circuit opens.
	DefaultClientCircuitMaxFailures = 5

	// DefaultClientCircuitHalfOpenLimit is the default successes to close circuit.
	DefaultClientCircuitHalfOpenLimit = 3

	// DefaultTransportMaxIdleConns is the default max idle connections.
	DefaultTransportMaxIdleConns = 100

	// DefaultTransportMaxIdleConnsPerHost is the default max idle connections per host.
	DefaultTransportMaxIdleConnsPerHost = 10

	// DefaultCacheMaxEntries caps the response cache.
	DefaultCacheMaxEntries = 512

	// DefaultCacheTTL applies when a cacheable response carries no freshness headers.
	DefaultCacheTTL time.Duration = 0

	// DefaultCacheMaxAge bounds retention of any cache entry.
	DefaultCacheMaxAge = time.Hour

	// DefaultMaxConcurrency bounds parallel dispatches in SendAll.
	DefaultMaxConcurrency = 8

	// DefaultLogFileMaxSizeMB is the default max log file size in megabytes.
	DefaultLogFileMaxSizeMB = 100

	// DefaultLogFileMaxBackups is the default number of old log files to retain.
	DefaultLogFileMaxBackups = 3

	// DefaultLogFileMaxAgeDays is the default max days to retain old log files.
	DefaultLogFileMaxAgeDays = 28
)

// Config is the root configuration structure.
type Config struct {
	App       AppConfig       `koanf:"app"       validate:"required"`
	Log       LogConfig       `koanf:"log"       validate:"required"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Client    ClientConfig    `koanf:"client"    validate:"required"`
	Service   ServiceConfig   `koanf:"service"`
	Dispatch  DispatchConfig  `koanf:"dispatch"  validate:"required"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `koanf:"name"        validate:"required"`
	Version     string `koanf:"version"     validate:"required"`
	Environment string `koanf:"environment" validate:"required,oneof=local dev qa prod test"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `koanf:"level"  validate:"required,oneof=trace debug info warn error"`
	Format string        `koanf:"format" validate:"required,oneof=json text pretty"`
	File   LogFileConfig `koanf:"file"`
}

// LogFileConfig contains rolling log file settings.
type LogFileConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"        validate:"required_if=Enabled true"`
	MaxSizeMB  int    `koanf:"max_size"    validate:"omitempty,min=1,max=1024"`
	MaxBackups int    `koanf:"max_backups" validate:"omitempty,min=0,max=100"`
	MaxAgeDays int    `koanf:"max_age"     validate:"omitempty,min=0,max=365"`
	Compress   bool   `koanf:"compress"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"      validate:"required_if=Enabled true"`
	ServiceName  string  `koanf:"service_name"  validate:"required_if=Enabled true"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `koanf:"insecure"`
}

// ClientConfig contains settings for the HTTP transport.
type ClientConfig struct {
	Timeout        time.Duration        `koanf:"timeout"         validate:"required,min=100ms"`
	UserAgent      string               `koanf:"user_agent"`
	Retry          RetryConfig          `koanf:"retry"           validate:"required"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker" validate:"required"`
	Transport      TransportConfig      `koanf:"transport"       validate:"required"`
	Cache          CacheConfig          `koanf:"cache"`
}

// RetryConfig contains retry settings.
type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"     validate:"required,min=1,max=10"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"required,min=10ms"`
	MaxInterval     time.Duration `koanf:"max_interval"     validate:"required,min=100ms"`
	Multiplier      float64       `koanf:"multiplier"       validate:"required,min=1.1,max=10"`
	JitterFactor    float64       `koanf:"jitter_factor"    validate:"min=0,max=1"`
}

// CircuitBreakerConfig contains circuit breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures   int           `koanf:"max_failures"    validate:"required,min=1"`
	Timeout       time.Duration `koanf:"timeout"         validate:"required,min=1s"`
	HalfOpenLimit int           `koanf:"half_open_limit" validate:"required,min=1"`
}

// TransportConfig contains HTTP connection pool settings.
type TransportConfig struct {
	MaxIdleConns        int           `koanf:"max_idle_conns"          validate:"required,min=1"`
	MaxIdleConnsPerHost int           `koanf:"max_idle_conns_per_host" validate:"required,min=1"`
	IdleConnTimeout     time.Duration `koanf:"idle_conn_timeout"       validate:"required,min=1s"`
}

// CacheConfig contains response cache settings. DefaultTTL of zero leaves
// responses without freshness headers stale on arrival. MaxAge bounds how long
// any entry is retained, including stale entries kept for revalidation.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MaxEntries int           `koanf:"max_entries" validate:"required_if=Enabled true,omitempty,min=1"`
	DefaultTTL time.Duration `koanf:"default_ttl" validate:"min=0"`
	MaxAge     time.Duration `koanf:"max_age"     validate:"min=0"`
}

// ServiceConfig names the upstream a relative request URL resolves against.
// BaseURL may be empty, in which case every URL must be absolute.
type ServiceConfig struct {
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`
	Name    string `koanf:"name"     validate:"required"`
}

// DispatchConfig bounds concurrent dispatch.
type DispatchConfig struct {
	MaxConcurrency int `koanf:"max_concurrency" validate:"required,min=1,max=256"`
}

// defaults returns the default configuration values.
func defaults() map[string]any {
	return map[string]any{
		"app.name":        "jsonreq",
		"app.version":     "dev",
		"app.environment": "local",

		"log.level":            "info",
		"log.format":           "json",
		"log.file.enabled":     false,
		"log.file.path":        "./logs/jsonreq.log",
		"log.file.max_size":    DefaultLogFileMaxSizeMB,
		"log.file.max_backups": DefaultLogFileMaxBackups,
		"log.file.max_age":     DefaultLogFileMaxAgeDays,
		"log.file.compress":    true,

		"telemetry.enabled":       false,
		"telemetry.endpoint":      "",
		"telemetry.service_name":  "jsonreq",
		"telemetry.sampling_rate": 1.0,
		"telemetry.insecure":      true,

		"client.timeout":                           DefaultClientTimeout.String(),
		"client.user_agent":                        "jsonreq",
		"client.retry.max_attempts":                DefaultClientRetryMaxAttempts,
		"client.retry.initial_interval":            "100ms",
		"client.retry.max_interval":                "5s",
		"client.retry.multiplier":                  DefaultClientRetryMultiplier,
		"client.retry.jitter_factor":               DefaultClientRetryJitterFactor,
		"client.circuit_breaker.max_failures":      DefaultClientCircuitMaxFailures,
		"client.circuit_breaker.timeout":           "30s",
		"client.circuit_breaker.half_open_limit":   DefaultClientCircuitHalfOpenLimit,
		"client.transport.max_idle_conns":          DefaultTransportMaxIdleConns,
		"client.transport.max_idle_conns_per_host": DefaultTransportMaxIdleConnsPerHost,
		"client.transport.idle_conn_timeout":       "90s",
		"client.cache.enabled":                     true,
		"client.cache.max_entries":                 DefaultCacheMaxEntries,
		"client.cache.default_ttl":                 DefaultCacheTTL.String(),
		"client.cache.max_age":                     DefaultCacheMaxAge.String(),

		"service.base_url": "",
		"service.name":     "upstream",

		"dispatch.max_concurrency": DefaultMaxConcurrency,
	}
}

// Options controls where Load looks for files.
type Options struct {
	// Profile selects configs/{profile}.yaml on top of configs/base.yaml.
	Profile string

	// Dir holds base.yaml and the profile files. Defaults to "configs".
	Dir string

	// EnvFile is a dotenv file read before the process environment. Defaults to ".env".
	EnvFile string
}

// Load loads configuration with the following precedence (highest to lowest):
//  1. Environment variables (JSONREQ_ prefix)
//  2. Dotenv file (.env, same JSONREQ_ names)
//  3. Profile config file (configs/{profile}.yaml)
//  4. Base config file (configs/base.yaml)
//  5. Default values
func Load(profile string) (*Config, error) {
	return LoadWithOptions(Options{Profile: profile})
}

// LoadWithOptions is Load with explicit file locations.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.Dir == "" {
		opts.Dir = "configs"
	}

	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := loadFileIfExists(k, filepath.Join(opts.Dir, "base.yaml")); err != nil {
		return nil, fmt.Errorf("loading base config: %w", err)
	}

	if opts.Profile != "" {
		if err := loadFileIfExists(k, filepath.Join(opts.Dir, opts.Profile+".yaml")); err != nil {
			return nil, fmt.Errorf("loading profile config %q: %w", opts.Profile, err)
		}
	}

	keys := newKeyResolver(defaults())

	if err := loadDotenv(k, opts.EnvFile, keys); err != nil {
		return nil, fmt.Errorf("loading %s: %w", opts.EnvFile, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", keys.resolve), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// loadFileIfExists loads a YAML config file if it exists.
func loadFileIfExists(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return k.Load(file.Provider(path), yaml.Parser())
}

// loadDotenv layers JSONREQ_ entries from a dotenv file without touching the
// process environment. A missing file is not an error.
func loadDotenv(k *koanf.Koanf, path string, keys keyResolver) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	flat := make(map[string]any, len(values))
	for name, value := range values {
		if !strings.HasPrefix(name, EnvPrefix) {
			continue
		}

		flat[keys.resolve(name)] = value
	}

	return k.Load(confmap.Provider(flat, "."), nil)
}

// keyResolver maps JSONREQ_CLIENT_RETRY_MAX_ATTEMPTS to client.retry.max_attempts.
// Underscores are ambiguous (section separator or part of a key), so names are
// matched against the known keys first.
type keyResolver map[string]string

func newKeyResolver(known map[string]any) keyResolver {
	r := make(keyResolver, len(known))
	for key := range known {
		r[strings.ReplaceAll(key, ".", "_")] = key
	}

	return r
}

func (r keyResolver) resolve(name string) string {
	flat := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key, ok := r[flat]; ok {
		return key
	}

	return strings.ReplaceAll(flat, "_", ".")
}
