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

// Tax basis values accepted by TAX_BASED_ON.
const (
	BasisShipping = "shipping"
	BasisBilling  = "billing"
	BasisBase     = "base"
)

// Exemption handling values accepted by TAX_EXEMPTION_HANDLING.
const (
	ExemptionForward = "forward"
	ExemptionIgnore  = "ignore"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	HTTP   HTTPConfig
	TaxJar TaxJarConfig
	Tax    TaxConfig
	Store  StoreAddress
	Lock   LockConfig
	Obs    ObsConfig
}

// HTTPConfig holds inbound guards.
type HTTPConfig struct {
	BodyLimit int64
	// RateLimit is a per-client formatted rate such as "120-M". Empty
	// disables it.
	RateLimit     string
	SecureHeaders bool
	HSTSMaxAge    int
}

// TaxJarConfig configures the remote tax client.
type TaxJarConfig struct {
	APIToken            string
	BaseURL             string
	Plugin              string
	Stub                bool
	Timeout             time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	// Quota is a ulule limiter formatted rate such as "300-M". Empty disables it.
	Quota string
}

// TaxConfig holds the calculation options.
type TaxConfig struct {
	BasedOn            string
	Debug              bool
	CacheTTL           time.Duration
	NexusRegions       []string
	ExemptionHandling  string
	LocalPickupMethods []string
	BaseForLocalPickup bool
	DedupRemote        bool
}

// StoreAddress is the ship-from address of the shop.
type StoreAddress struct {
	Country  string
	State    string
	Postcode string
	City     string
	Street   string
}

// LockConfig tunes per-key rate reconciliation locking.
type LockConfig struct {
	TTL   time.Duration
	Retry time.Duration
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	country, state := splitCountryState(k.String("STORE_COUNTRY"))
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HTTP: HTTPConfig{
			BodyLimit:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
			RateLimit:     strings.TrimSpace(k.String("HTTP_RATE_LIMIT")),
			SecureHeaders: parseBool(k.String("SECURE_HEADERS"), true),
			HSTSMaxAge:    parseInt(k.String("SECURE_HSTS_MAX_AGE"), 0),
		},
		TaxJar: TaxJarConfig{
			APIToken:            strings.TrimSpace(k.String("TAXJAR_API_TOKEN")),
			BaseURL:             strings.TrimRight(valueOrDefault(k.String("TAXJAR_BASE_URL"), "https://api.taxjar.com"), "/"),
			Plugin:              valueOrDefault(k.String("TAXJAR_PLUGIN"), "toko"),
			Stub:                parseBool(k.String("TAXJAR_STUB"), false),
			Timeout:             parseDuration(k.String("TAXJAR_TIMEOUT"), "5s"),
			RetryMaxAttempts:    parseInt(k.String("TAXJAR_RETRY_MAX_ATTEMPTS"), 2),
			RetryBase:           parseDuration(k.String("TAXJAR_RETRY_BASE"), "100ms"),
			BreakerMinRequests:  parseInt(k.String("TAXJAR_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("TAXJAR_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("TAXJAR_BREAKER_OPEN_FOR"), "30s"),
			Quota:               strings.TrimSpace(k.String("TAXJAR_QUOTA")),
		},
		Tax: TaxConfig{
			BasedOn:            strings.ToLower(valueOrDefault(k.String("TAX_BASED_ON"), BasisShipping)),
			Debug:              parseBool(k.String("TAX_DEBUG"), false),
			CacheTTL:           parseDuration(k.String("TAX_CACHE_TTL"), "1h"),
			NexusRegions:       upperAll(splitAndTrim(k.String("TAX_NEXUS_REGIONS"))),
			ExemptionHandling:  strings.ToLower(valueOrDefault(k.String("TAX_EXEMPTION_HANDLING"), ExemptionForward)),
			LocalPickupMethods: splitAndTrim(valueOrDefault(k.String("TAX_LOCAL_PICKUP_METHODS"), "legacy_local_pickup,local_pickup")),
			BaseForLocalPickup: parseBool(k.String("TAX_BASE_FOR_LOCAL_PICKUP"), true),
			DedupRemote:        parseBool(k.String("TAX_DEDUP_REMOTE"), false),
		},
		Store: StoreAddress{
			Country:  country,
			State:    state,
			Postcode: strings.TrimSpace(k.String("STORE_POSTCODE")),
			City:     strings.TrimSpace(k.String("STORE_CITY")),
			Street:   strings.TrimSpace(k.String("STORE_STREET")),
		},
		Lock: LockConfig{
			TTL:   parseDuration(k.String("RATE_LOCK_TTL"), "5s"),
			Retry: parseDuration(k.String("RATE_LOCK_RETRY"), "25ms"),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko"),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Tax.BasedOn {
	case BasisShipping, BasisBilling, BasisBase:
	default:
		errs = append(errs, fmt.Errorf("TAX_BASED_ON must be one of shipping, billing, base; got %q", c.Tax.BasedOn))
	}
	switch c.Tax.ExemptionHandling {
	case ExemptionForward, ExemptionIgnore:
	default:
		errs = append(errs, fmt.Errorf("TAX_EXEMPTION_HANDLING must be forward or ignore; got %q", c.Tax.ExemptionHandling))
	}
	if !c.TaxJar.Stub && c.TaxJar.APIToken == "" {
		errs = append(errs, errors.New("TAXJAR_API_TOKEN is required unless TAXJAR_STUB is set"))
	}
	if c.HTTP.BodyLimit <= 0 {
		errs = append(errs, errors.New("HTTP_BODY_LIMIT_BYTES must be positive"))
	}
	if c.Tax.CacheTTL <= 0 {
		errs = append(errs, errors.New("TAX_CACHE_TTL must be positive"))
	}
	for _, region := range c.Tax.NexusRegions {
		if !validRegion(region) {
			errs = append(errs, fmt.Errorf("TAX_NEXUS_REGIONS entry %q must look like CC or CC-ST", region))
		}
	}
	return errors.Join(errs...)
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

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func validRegion(region string) bool {
	country, state, found := strings.Cut(region, "-")
	if len(country) != 2 {
		return false
	}
	return !found || state != ""
}

// splitCountryState parses the "CC:ST" form used for the store location.
func splitCountryState(value string) (string, string) {
	country, state, _ := strings.Cut(strings.TrimSpace(value), ":")
	return strings.ToUpper(strings.TrimSpace(country)), strings.ToUpper(strings.TrimSpace(state))
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

func upperAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToUpper(v)
	}
	return values
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
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

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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
