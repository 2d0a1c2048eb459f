package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	JWTClockSkew       time.Duration
	CORSAllowedOrigins []string

	UpstreamBaseURL     string
	UpstreamTimeout     time.Duration
	UpstreamMaxAttempts int
	UpstreamBackoff     time.Duration

	FeeTypeCacheTTL   time.Duration
	IdempotencyTTL    time.Duration
	CurrencyCode      string
	CurrencyPrecision int32
	SubmitRateLimit   string
	BodyLimitBytes    int64

	Obs Observability
}

// Observability groups logging, metrics and tracing settings.
type Observability struct {
	LogFormat       string
	LogLevel        string
	MetricsNS       string
	EnableProm      bool
	EnableTracing   bool
	OTLPEndpoint    string
	TracingSampling float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTClockSkew:       parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		UpstreamBaseURL:     strings.TrimRight(strings.TrimSpace(k.String("UPSTREAM_BASE_URL")), "/"),
		UpstreamTimeout:     parseDuration(k.String("UPSTREAM_TIMEOUT"), "10s"),
		UpstreamMaxAttempts: parseInt(k.String("UPSTREAM_MAX_ATTEMPTS"), 3),
		UpstreamBackoff:     parseDuration(k.String("UPSTREAM_BACKOFF"), "200ms"),

		FeeTypeCacheTTL:   parseDuration(k.String("FEE_TYPE_CACHE_TTL"), "5m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CurrencyCode:      strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "IDR")),
		CurrencyPrecision: int32(parseInt(k.String("CURRENCY_PRECISION"), 2)),
		SubmitRateLimit:   valueOrDefault(k.String("SUBMIT_RATE_LIMIT"), "30-M"),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),

		Obs: Observability{
			LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNS:       valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "invoice"),
			EnableProm:      parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:    strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			TracingSampling: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}
	if cfg.UpstreamMaxAttempts < 1 {
		cfg.UpstreamMaxAttempts = 1
	}
	if cfg.CurrencyPrecision < 0 {
		return nil, fmt.Errorf("CURRENCY_PRECISION must not be negative, got %d", cfg.CurrencyPrecision)
	}
	if cfg.Obs.TracingSampling < 0 || cfg.Obs.TracingSampling > 1 {
		cfg.Obs.TracingSampling = 1
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
