package config

import (
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
	CORSAllowedOrigins []string

	IyzicoAPIKey    string
	IyzicoSecretKey string
	IyzicoBaseURL   string
	IyzicoLocale    string
	IyzicoTimezone  string
	IyzicoTimeout   time.Duration

	RedisURL string

	PaymentRateLimitMax    int
	PaymentRateLimitWindow time.Duration
	BodyLimitBytes         int64
	SecurityHeaders        bool
	EnableHSTS             bool

	CircuitPaymentMinReq      int
	CircuitPaymentFailureRate float64
	CircuitPaymentOpenFor     time.Duration

	OrdersAPIURL       string
	OrderQueue         string
	OrderHandoffRetry  int
	OrderHandoffBase   time.Duration
	OrderHandoffJitter float64
	WorkerConcurrency  int
}

// Load reads configuration from environment variables and optional .env files.
// Payment credentials are not enforced here: a missing key surfaces per request
// as a configuration error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             strings.ToLower(valueOrDefault(k.String("APP_ENV"), "production")),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		IyzicoAPIKey:    strings.TrimSpace(k.String("IYZICO_API_KEY")),
		IyzicoSecretKey: strings.TrimSpace(k.String("IYZICO_SECRET_KEY")),
		IyzicoBaseURL:   valueOrDefault(k.String("IYZICO_BASE_URL"), "https://sandbox-api.iyzipay.com"),
		IyzicoLocale:    valueOrDefault(k.String("IYZICO_LOCALE"), "tr"),
		IyzicoTimezone:  valueOrDefault(k.String("IYZICO_TIMEZONE"), "Europe/Istanbul"),
		IyzicoTimeout:   parseDuration(k.String("IYZICO_TIMEOUT"), "30s"),

		RedisURL: strings.TrimSpace(k.String("REDIS_URL")),

		PaymentRateLimitMax:    parseInt(k.String("PAYMENT_RATE_LIMIT_MAX"), 10),
		PaymentRateLimitWindow: parseDuration(k.String("PAYMENT_RATE_LIMIT_WINDOW"), "1m"),
		BodyLimitBytes:         int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 64<<10)),
		SecurityHeaders:        parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:             parseBool(k.String("SECURITY_HSTS")),

		CircuitPaymentMinReq:      parseInt(k.String("CIRCUIT_PAYMENT_MIN_REQUESTS"), 20),
		CircuitPaymentFailureRate: parseFloat(k.String("CIRCUIT_PAYMENT_FAILURE_RATIO"), 0.5),
		CircuitPaymentOpenFor:     parseDuration(k.String("CIRCUIT_PAYMENT_OPEN_FOR"), "30s"),

		OrdersAPIURL:       strings.TrimSpace(k.String("ORDERS_API_URL")),
		OrderQueue:         valueOrDefault(k.String("ORDER_QUEUE"), "orders"),
		OrderHandoffRetry:  parseInt(k.String("ORDER_HANDOFF_MAX_ATTEMPTS"), 5),
		OrderHandoffBase:   parseDuration(k.String("ORDER_HANDOFF_BACKOFF_BASE"), "200ms"),
		OrderHandoffJitter: parseFloat(k.String("ORDER_HANDOFF_JITTER"), 0.2),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
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

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "development", "dev", "local":
		return true
	default:
		return false
	}
}

// PaymentConfigured reports whether both vendor credentials are present.
func (c *Config) PaymentConfigured() bool {
	return c.IyzicoAPIKey != "" && c.IyzicoSecretKey != ""
}

// Location resolves the vendor timezone, falling back to the process local zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.IyzicoTimezone)
	if err != nil {
		return time.Local, fmt.Errorf("load timezone %q: %w", c.IyzicoTimezone, err)
	}
	return loc, nil
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

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
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
