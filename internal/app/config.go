package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"golang.org/x/text/currency"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/analytics/segment"
	"github.com/xenking/oolio-orderflow/internal/traffic/ga4"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERFLOW_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL; empty runs on the in-memory store" flag:"database-url"`
	Auth        AuthConfig
	Analytics   AnalyticsConfig
	GA4         ga4.Config
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig controls API key authentication and the role table.
type AuthConfig struct {
	Pepper   string `usage:"HMAC pepper for API key hashing (ORDERFLOW_AUTH_PEPPER)"`
	Header   string `default:"X-API-Key" usage:"Header carrying the API key"`
	Disabled bool   `default:"false" usage:"Treat every caller as admin (local runs only)" flag:"auth-disabled"`
	// Roles override the built-in role table, e.g. "staff=orders:read+orders:write".
	Roles []string `usage:"Role overrides as role=cap1+cap2"`
	// ConflictRetries bounds retries of writes that lost a version race.
	ConflictRetries int `default:"3" usage:"Retries for unversioned writes that hit a conflict" flag:"conflict-retries"`
}

// AnalyticsConfig holds the reporting policy.
type AnalyticsConfig struct {
	Timezone          string `default:"UTC" usage:"IANA timezone that aligns report buckets"`
	Currency          string `default:"INR" usage:"ISO 4217 currency reported with monetary values"`
	LoyalThreshold    int    `default:"5" usage:"Lifetime orders that make a customer loyal"`
	SlowMovingDays    int    `default:"30" usage:"Days without a sale before stocked products are slow moving"`
	LowStockThreshold int    `default:"10" usage:"Low stock threshold for products without their own"`
	TopLimit          int    `default:"10" usage:"Number of top-selling products"`
}

// Build converts the settings to an analytics.Config.
func (c AnalyticsConfig) Build() (analytics.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return analytics.Config{}, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	unit, err := currency.ParseISO(c.Currency)
	if err != nil {
		return analytics.Config{}, errors.Wrapf(err, "currency %q", c.Currency)
	}
	segments := segment.Config{
		LoyalThreshold:    c.LoyalThreshold,
		SlowMovingDays:    c.SlowMovingDays,
		LowStockThreshold: c.LowStockThreshold,
		TopLimit:          c.TopLimit,
	}
	if err := segments.Validate(); err != nil {
		return analytics.Config{}, errors.Wrap(err, "segments")
	}
	return analytics.Config{Segments: segments, Location: loc, Currency: unit}, nil
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERFLOW",
		Files:     []string{"config.yaml", "/etc/orderflow/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.Auth.Pepper == "" && !cfg.Auth.Disabled {
		return nil, errors.New("api key pepper is required: set ORDERFLOW_AUTH_PEPPER or disable auth")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERFLOW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
