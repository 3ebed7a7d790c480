package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderPrincipalID carries the opaque visitor or user id assigned by the
// frontend. It identifies, it does not authenticate.
const HeaderPrincipalID = "X-Principal-ID"

const ctxKeyPrincipal = "principalID"

var principalRE = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,64}$`)

// Principal validates an optional X-Principal-ID header and stores it in the
// Gin context. A malformed header is rejected with 400; an absent one is fine.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderPrincipalID))
		if id == "" {
			c.Next()
			return
		}
		if !ValidPrincipalID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_principal_id",
				"message":    "invalid X-Principal-ID",
			})
			return
		}
		c.Set(ctxKeyPrincipal, id)
		c.Next()
	}
}

// ValidPrincipalID reports whether id has the accepted principal shape.
func ValidPrincipalID(id string) bool { return principalRE.MatchString(id) }

// PrincipalFrom returns the principal stored by Principal, or "".
func PrincipalFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyPrincipal); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
