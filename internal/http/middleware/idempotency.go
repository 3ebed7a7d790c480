package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets a client retry an unsafe request safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemHash   = "idem.hash"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemKeyRE = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet. nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope names the operation, e.g. "otp.issue". Empty means the route.
	Scope string
}

// IdempotencyLookup returns the body fingerprint stored for a live
// (principal, scope, key) record, with found=false when there is none.
type IdempotencyLookup func(ctx context.Context, principalID, scope, key string, now time.Time) (requestHash string, found bool, err error)

// IdempotencyValidator validates the Idempotency-Key header, fingerprints the
// request body and stashes both for the handler. With a lookup and a known
// principal it also checks for an earlier request under the same key:
//
//   - same body: the request is marked as a replay and skips rate limiting
//   - different body: 422 idempotency_key_reused
//
// Lookup errors are ignored; the handler decides again when it stores.
// Without the header the middleware does nothing.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemKeyRE
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		hash, err := fingerprintBody(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "body_too_large",
				"message":    "request body could not be read",
			})
			return
		}

		scope := opts.Scope
		if scope == "" {
			scope = c.FullPath()
		}
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)
		c.Set(ctxKeyIdemHash, hash)

		if pid := PrincipalFrom(c); lookup != nil && pid != "" {
			stored, found, err := lookup(c.Request.Context(), pid, scope, key, time.Now().UTC())
			switch {
			case err != nil || !found:
			case stored != "" && stored != hash:
				AbortIdempotencyMismatch(c)
				return
			default:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// AbortIdempotencyMismatch rejects a request that reuses a key with a
// different body.
func AbortIdempotencyMismatch(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "idempotency_key_reused",
		"message":    "Idempotency-Key was already used with a different request body",
	})
}

// fingerprintBody hashes the body and puts it back for the handler.
func fingerprintBody(r *http.Request) (string, error) {
	sum := sha256.New()
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return "", err
		}
		sum.Write(raw)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// GetIdempotencyScope returns the scope the key was validated for.
func GetIdempotencyScope(c *gin.Context) string { return c.GetString(ctxKeyIdemScope) }

// GetIdempotencyFingerprint returns the hex SHA-256 of the request body.
func GetIdempotencyFingerprint(c *gin.Context) string { return c.GetString(ctxKeyIdemHash) }

// IsReplay reports whether the validator found an earlier request with the
// same key and body.
func IsReplay(c *gin.Context) bool { return c.GetBool(ctxKeyIdemReplay) }
