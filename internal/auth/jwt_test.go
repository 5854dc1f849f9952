package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelguard/internal/config"
)

func testVerifier() *Verifier {
	return NewVerifier(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "identity"})
}

func TestVerify_RoundTrip(t *testing.T) {
	v := testVerifier()
	token, err := v.Issue("user-42", "reviewer", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "reviewer", claims.Role)
}

func TestVerify_Rejects(t *testing.T) {
	v := testVerifier()

	expired, err := v.Issue("user-42", "reviewer", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier(config.AuthConfig{JWTSecret: "other", JWTIssuer: "identity"}).Issue("user-42", "", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "someone-else"}).Issue("user-42", "", time.Hour)
	require.NoError(t, err)

	noSubject, err := v.Issue("", "admin", time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-42",
		"iss": "identity",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
		"empty":        "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_NoIssuerConfigured(t *testing.T) {
	v := NewVerifier(config.AuthConfig{JWTSecret: "test-secret"})
	token, err := NewVerifier(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "anyone"}).Issue("user-1", "", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.NoError(t, err)
}

func TestHasAnyRole(t *testing.T) {
	reviewers := []string{"admin", "reviewer"}

	assert.True(t, (&Claims{Role: "admin"}).HasAnyRole(reviewers))
	assert.True(t, (&Claims{Role: "member", Roles: []string{"reviewer"}}).HasAnyRole(reviewers))
	assert.False(t, (&Claims{Role: "member"}).HasAnyRole(reviewers))
	assert.False(t, (&Claims{}).HasAnyRole(reviewers))
}
