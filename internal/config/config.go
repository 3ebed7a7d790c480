// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/go-eligibility-backend/internal/sysutil"
)

// CORSConfig lists allowed browser origins. Empty allows any origin.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig configures trace export.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "eligibility-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the storage driver.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH: SQLite file
	URL    string // DATABASE_URL (or POSTGRES_DSN): Postgres DSN
}

// OTPConfig holds the one-time code policy.
type OTPConfig struct {
	TTL         time.Duration // OTP_TTL
	MaxAttempts int           // OTP_MAX_ATTEMPTS
	RateWindow  time.Duration // OTP_RATE_WINDOW
	RateLimit   int           // OTP_RATE_LIMIT: issuances per principal per window
	BcryptCost  int           // OTP_BCRYPT_COST
	GrantTTL    time.Duration // OTP_GRANT_TTL: lifetime of the access token granted on verification
}

// ChallengeCutoff is the expiry before which challenges may be deleted, given
// a grace period. Challenges still counted by the issuance window are kept
// whatever the grace, or deleting them would reopen the rate limit.
func (o OTPConfig) ChallengeCutoff(now time.Time, grace time.Duration) time.Time {
	return now.Add(-max(grace, o.TTL, o.RateWindow))
}

// EligibilityConfig overrides the scoring policy defaults.
type EligibilityConfig struct {
	HighThreshold     int   // SCORE_HIGH_THRESHOLD
	SelfPayPriceMinor int64 // SELF_PAY_PRICE_MINOR (CHF cents)
}

type Config struct {
	Port              string // PORT
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string // LOG_LEVEL, zerolog level name
	LogPretty      bool   // LOG_PRETTY: console writer instead of JSON
	SwaggerEnabled bool   // SWAGGER_ENABLED: mount /swagger
	APIBasePath    string // API_BASE_PATH

	// Storage
	DB DBConfig

	// Verification and questionnaire policy
	OTP         OTPConfig
	SessionTTL  time.Duration // inactivity TTL of a form session
	ReferralTTL time.Duration // lifetime of a referral code
	Eligibility EligibilityConfig

	// Edge token bucket per principal or client IP.
	RateRPS   float64 // RATE_RPS
	RateBurst int     // RATE_BURST

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration // IDEMPOTENCY_TTL: lifetime of a stored Idempotency-Key

	OTEL OTELConfig
}

// Load reads the environment, applies defaults and validates the result.
// Malformed values are errors rather than silent defaults; every problem
// found is reported in one joined error.
func Load() (Config, error) {
	e := &env{}
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", time.Minute),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(e.str("GIN_MODE", "release")),

		LogLevel:       logLevel(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:   e.str("DB_PATH", "app.db"),
			URL:    sysutil.FirstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN")),
		},

		OTP: OTPConfig{
			TTL:         e.dur("OTP_TTL", 10*time.Minute),
			MaxAttempts: e.int("OTP_MAX_ATTEMPTS", 3),
			RateWindow:  e.dur("OTP_RATE_WINDOW", 10*time.Minute),
			RateLimit:   e.int("OTP_RATE_LIMIT", 5),
			BcryptCost:  e.int("OTP_BCRYPT_COST", bcrypt.DefaultCost),
			GrantTTL:    e.dur("OTP_GRANT_TTL", 24*time.Hour),
		},
		SessionTTL:  e.dur("SESSION_TTL", 72*time.Hour),
		ReferralTTL: e.dur("REFERRAL_TTL", 14*24*time.Hour),
		Eligibility: EligibilityConfig{
			HighThreshold:     e.int("SCORE_HIGH_THRESHOLD", 70),
			SelfPayPriceMinor: int64(e.int("SELF_PAY_PRICE_MINOR", 35000)),
		},

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "eligibility-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	return cfg, errors.Join(append(e.errs, cfg.Validate())...)
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.LogLevel != "", "LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"server timeouts must be positive")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	check(c.OTP.TTL > 0 && c.OTP.RateWindow > 0, "OTP_TTL and OTP_RATE_WINDOW must be positive")
	check(c.OTP.MaxAttempts >= 1, "OTP_MAX_ATTEMPTS must be >= 1")
	check(c.OTP.RateLimit >= 1, "OTP_RATE_LIMIT must be >= 1")
	check(c.OTP.GrantTTL > 0, "OTP_GRANT_TTL must be positive")
	check(c.OTP.BcryptCost >= bcrypt.MinCost && c.OTP.BcryptCost <= bcrypt.MaxCost,
		fmt.Sprintf("OTP_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	check(c.SessionTTL > 0 && c.ReferralTTL > 0, "SESSION_TTL and REFERRAL_TTL must be positive")
	check(c.Eligibility.HighThreshold >= 0 && c.Eligibility.HighThreshold <= 100,
		"SCORE_HIGH_THRESHOLD must be between 0 and 100")
	check(c.Eligibility.SelfPayPriceMinor >= 0, "SELF_PAY_PRICE_MINOR must be >= 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// env reads typed variables and remembers the ones it could not parse.
type env struct{ errs []error }

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) bad(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: want %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.bad(k, v, "an integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.bad(k, v, "a number")
		return def
	}
	return f
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	if sysutil.IsTruthy(v) {
		return true
	}
	switch strings.ToLower(v) {
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "a boolean")
	return def
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.bad(k, v, "a duration like 10m")
		return def
	}
	return d
}

// logLevel normalizes a level name; unknown names come back empty so that
// Validate rejects them.
func logLevel(s string) string {
	switch s = strings.ToLower(s); s {
	case "warning":
		return "warn"
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
		return s
	}
	return ""
}

// ginMode falls back to release for anything gin does not know.
func ginMode(s string) string {
	switch s = strings.ToLower(s); s {
	case "debug", "release", "test":
		return s
	}
	return "release"
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// empty means root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
