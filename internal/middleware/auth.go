package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelguard/internal/auth"
)

// ClaimsKey is the context key for verified token claims.
const ClaimsKey = "claims"

// Auth requires a valid bearer token and stores its claims in the context.
func Auth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			if log := GetLogger(c); log != nil {
				log.Warn("Token rejected", map[string]interface{}{
					"error": err.Error(),
					"path":  c.Request.URL.Path,
				})
			}
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// OptionalAuth verifies a bearer token when one is sent and stores its
// claims; requests without an Authorization header pass through anonymous.
// A token that fails verification is still rejected.
func OptionalAuth(verifier *auth.Verifier) gin.HandlerFunc {
	required := Auth(verifier)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// RequireRole rejects requests whose claims carry none of roles. It must
// run after Auth.
func RequireRole(roles []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}
		if !claims.HasAnyRole(roles) {
			abortWithError(c, http.StatusForbidden, "FORBIDDEN", "Reviewer role required")
			return
		}
		c.Next()
	}
}

// GetClaims retrieves the verified claims, or nil for anonymous requests.
func GetClaims(c *gin.Context) *auth.Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
