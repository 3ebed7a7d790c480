// Package httpapi assembles the gin engine: middleware chain, operational
// endpoints and the versioned API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-eligibility-backend/internal/config"
	"github.com/tbourn/go-eligibility-backend/internal/contact"
	"github.com/tbourn/go-eligibility-backend/internal/eligibility"
	"github.com/tbourn/go-eligibility-backend/internal/http/handlers"
	"github.com/tbourn/go-eligibility-backend/internal/http/middleware"
	"github.com/tbourn/go-eligibility-backend/internal/notify"
	"github.com/tbourn/go-eligibility-backend/internal/repo"
	"github.com/tbourn/go-eligibility-backend/internal/services"
)

const maxBodyBytes = 1 << 20

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderPrincipalID, handlers.HeaderSessionToken, middleware.HeaderIdempotencyKey,
	}
	corsExposed = []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"}
)

// RegisterRoutes installs the middleware chain and every route on r.
//
// Order of the chain:
//
//	otelgin → request id → access log → recovery → body cap → metrics
//	→ principal → idempotency → rate limit → CORS → security headers
//
// The principal must be known before idempotency and rate limiting, which
// key on it, and idempotency runs before the limiter so replays bypass it.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics("/metrics", "/health"),
		middleware.Principal(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db)),
	)

	// Code guessing gets a tighter edge budget than ordinary traffic.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP()).
		WithRoute(joinPath(cfg.APIBasePath, "/otp/challenges/:id/verify"), 1, 5)
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true, // responses carry session tokens and health data
		EnablePolicy: true,
		HTMLPrefixes: []string{"/swagger/"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := NewHandlers(db, cfg, nil)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Contact verification
		api.POST("/otp/challenges", h.IssueOTP)
		api.POST("/otp/challenges/:id/verify", h.VerifyOTP)

		// Questionnaire sessions
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.PUT("/sessions/:id/steps/:step", h.SaveProgress)
		api.POST("/sessions/:id/complete", h.CompleteSession)
		api.POST("/sessions/:id/abandon", h.AbandonSession)
		api.POST("/sessions/:id/referral", h.IssueReferral)

		// Eligibility and referrals
		api.POST("/eligibility/score", h.ScoreEligibility)
		api.POST("/referrals/redeem", h.RedeemReferral)

		// Profiles
		api.PUT("/profiles/:principal_id", h.UpsertProfile)
		api.GET("/profiles/:principal_id", h.GetProfile)
		api.GET("/principals/:id/export", h.ExportPrincipal)
	}
}

// NewHandlers builds the services from cfg and binds them to handlers. A nil
// sender delivers codes to the log only.
func NewHandlers(db *gorm.DB, cfg config.Config, sender notify.Sender) *handlers.Handlers {
	if sender == nil {
		ls := notify.LogSender{Logger: log.Logger}
		sender = notify.Channels{Email: ls, SMS: ls}
	}

	policy := eligibility.DefaultPolicy()
	if cfg.Eligibility.HighThreshold > 0 {
		policy.HighThreshold = cfg.Eligibility.HighThreshold
	}
	if cfg.Eligibility.SelfPayPriceMinor > 0 {
		policy.SelfPayPriceMinor = cfg.Eligibility.SelfPayPriceMinor
	}

	otpSvc := &services.OTPService{
		DB:          db,
		Sender:      sender,
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		Window:      contact.Window{Size: cfg.OTP.RateWindow, Limit: cfg.OTP.RateLimit},
		BcryptCost:  cfg.OTP.BcryptCost,
		GrantTTL:    cfg.OTP.GrantTTL,
	}
	sessionSvc := &services.SessionService{DB: db, TTL: cfg.SessionTTL, Policy: policy}
	referralSvc := &services.ReferralService{DB: db, TTL: cfg.ReferralTTL}
	profileSvc := &services.ProfileService{DB: db}

	h := handlers.New(otpSvc, sessionSvc, referralSvc, profileSvc, policy)
	h.IdempotencyTTL = cfg.IdempotencyTTL
	return h
}

// limitBody caps request bodies; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath prefixes a route template with the API base the same way
// groupWithPrefix mounts it.
func joinPath(base, route string) string {
	if base == "" || base == "/" {
		return route
	}
	return base + route
}

// idempotencyLookup reads the stored fingerprint for a live key.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, principalID, scope, key string, now time.Time) (string, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, principalID, scope, key, now)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return "", false, nil
		case err != nil:
			return "", false, err
		}
		return rec.RequestHash, true, nil
	}
}

// corsMiddleware allows any origin when none are configured. Otherwise only
// the listed origins are echoed back.
func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExposed,
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		base.AllowAllOrigins = true
		// Set for requests without Origin too, so plain probes see it.
		star := func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{star, cors.New(base)}
	}

	base.AllowOrigins = cfg.AllowedOrigins
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	echo := func(c *gin.Context) {
		if o := c.GetHeader("Origin"); allowed[o] {
			c.Header("Access-Control-Allow-Origin", o)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Next()
	}
	return []gin.HandlerFunc{echo, cors.New(base)}
}
