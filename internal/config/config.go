// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, session lifetimes, webhook delivery policy, and
// observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"

	"github.com/tbourn/ucp-shopping-agent/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "ucp-shopping-agent")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MerchantConfig describes the store advertised in the discovery document.
type MerchantConfig struct {
	Name     string // MERCHANT_NAME
	URL      string // MERCHANT_URL
	Currency string // ISO 4217, upper case
	Locale   string // BCP 47 tag
}

// CommerceConfig points at the external catalog / order store.
type CommerceConfig struct {
	BaseURL         string        // empty selects the in-memory store
	Timeout         time.Duration // per request
	CatalogSeedPath string        // JSON product list for the in-memory store
	PaymentHandlers []string      // ids advertised on checkout sessions
}

// WebhookConfig controls outbound delivery, retries and the dead-letter sweep.
type WebhookConfig struct {
	Timeout       time.Duration // per attempt
	MaxRetries    int           // inline attempts per delivery
	RetryDelay    time.Duration // base backoff, doubled per attempt
	SweepInterval time.Duration
	DeadLetterCap int
	MaxAge        time.Duration // dead letters older than this are dropped
	MaxAttempts   int           // cumulative attempts before a dead letter is dropped
	Source        string        // envelope "source"
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath      string // SQLite path
	UCPVersion  string // protocol version advertised in discovery and envelopes
	AppVersion  string // build version for User-Agent and traces
	Merchant    MerchantConfig
	Commerce    CommerceConfig
	CartTTL     time.Duration
	CheckoutTTL time.Duration

	// Auth
	APIKeyCacheTTL      time.Duration
	RedisURL            string // optional shared key cache
	BootstrapAdminOwner string // creates an admin key on an empty key table

	// Webhooks
	Webhook WebhookConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/ucp/v1")),

		// App
		DBPath:     getenv("DB_PATH", "ucp.db"),
		UCPVersion: getenv("UCP_VERSION", "2026-01-11"),
		AppVersion: getenv("APP_VERSION", "1.0.0"),
		Merchant: MerchantConfig{
			Name:     getenv("MERCHANT_NAME", "UCP Store"),
			URL:      strings.TrimRight(getenv("MERCHANT_URL", "http://localhost:8080"), "/"),
			Currency: strings.ToUpper(strings.TrimSpace(getenv("CURRENCY", "USD"))),
			Locale:   getenv("LOCALE", "en-US"),
		},
		Commerce: CommerceConfig{
			BaseURL:         strings.TrimRight(getenv("COMMERCE_BASE_URL", ""), "/"),
			Timeout:         getdur("COMMERCE_TIMEOUT", 10*time.Second),
			CatalogSeedPath: getenv("CATALOG_SEED_PATH", ""),
			PaymentHandlers: splitCSV(getenv("PAYMENT_HANDLERS", "")),
		},
		CartTTL:     getdur("CART_TTL", 24*time.Hour),
		CheckoutTTL: getdur("CHECKOUT_TTL", 30*time.Minute),

		// Auth
		APIKeyCacheTTL:      getdur("API_KEY_CACHE_TTL", 5*time.Minute),
		RedisURL:            getenv("REDIS_URL", ""),
		BootstrapAdminOwner: getenv("BOOTSTRAP_ADMIN_OWNER", ""),

		// Webhooks
		Webhook: WebhookConfig{
			Timeout:       getdur("WEBHOOK_TIMEOUT", 30*time.Second),
			MaxRetries:    getint("WEBHOOK_MAX_RETRIES", 3),
			RetryDelay:    getdur("WEBHOOK_RETRY_DELAY", 5*time.Second),
			SweepInterval: getdur("WEBHOOK_SWEEP_INTERVAL", 15*time.Minute),
			DeadLetterCap: getint("WEBHOOK_DEAD_LETTER_CAP", 100),
			MaxAge:        getdur("WEBHOOK_MAX_AGE", 24*time.Hour),
			MaxAttempts:   getint("WEBHOOK_MAX_ATTEMPTS", 10),
			Source:        getenv("WEBHOOK_SOURCE", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ucp-shopping-agent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Webhook.Source == "" {
		cfg.Webhook.Source = cfg.Merchant.URL
	}
	if tag, err := language.Parse(cfg.Merchant.Locale); err == nil {
		cfg.Merchant.Locale = tag.String()
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if _, err := currency.ParseISO(cfg.Merchant.Currency); err != nil {
		return cfg, errors.New("CURRENCY must be an ISO 4217 code")
	}
	if _, err := language.Parse(cfg.Merchant.Locale); err != nil {
		return cfg, errors.New("LOCALE must be a BCP 47 language tag")
	}
	if cfg.CartTTL <= 0 || cfg.CheckoutTTL <= 0 {
		return cfg, errors.New("CART_TTL and CHECKOUT_TTL must be > 0")
	}
	if cfg.APIKeyCacheTTL < 0 {
		return cfg, errors.New("API_KEY_CACHE_TTL must be >= 0")
	}
	if cfg.Commerce.Timeout <= 0 {
		return cfg, errors.New("COMMERCE_TIMEOUT must be > 0")
	}
	if cfg.Webhook.Timeout <= 0 || cfg.Webhook.SweepInterval <= 0 || cfg.Webhook.MaxAge <= 0 {
		return cfg, errors.New("WEBHOOK_TIMEOUT, WEBHOOK_SWEEP_INTERVAL and WEBHOOK_MAX_AGE must be > 0")
	}
	if cfg.Webhook.RetryDelay < 0 {
		return cfg, errors.New("WEBHOOK_RETRY_DELAY must be >= 0")
	}
	if cfg.Webhook.MaxRetries < 1 {
		return cfg, errors.New("WEBHOOK_MAX_RETRIES must be >= 1")
	}
	if cfg.Webhook.DeadLetterCap < 1 {
		return cfg, errors.New("WEBHOOK_DEAD_LETTER_CAP must be >= 1")
	}
	if cfg.Webhook.MaxAttempts < 1 {
		return cfg, errors.New("WEBHOOK_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// CurrencyDecimals returns the number of minor-unit digits for the configured
// currency (2 for USD, 0 for JPY). Unknown codes fall back to 2.
func (c Config) CurrencyDecimals() int {
	u, err := currency.ParseISO(c.Merchant.Currency)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(u)
	return scale
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
