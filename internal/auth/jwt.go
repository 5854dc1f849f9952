// Package auth verifies bearer tokens issued by the external identity service.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stwalsh4118/parcelguard/internal/config"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims the service relies on. Subject is the
// actor recorded as owner_ref on submissions and resolved_by on tickets.
type Claims struct {
	jwt.RegisteredClaims

	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// HasAnyRole reports whether the claims carry at least one of the roles.
func (c *Claims) HasAnyRole(roles []string) bool {
	if c.Role != "" && slices.Contains(roles, c.Role) {
		return true
	}
	for _, r := range c.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// Verifier validates HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier from the auth configuration. An empty
// issuer disables the issuer check.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}
}

// Verify parses and validates a token and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issue signs a token for subject. The identity service owns issuance in
// production; the server uses this only in development tooling and tests.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
