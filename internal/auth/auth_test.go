package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amerfu/bllm/internal/config"
	"github.com/amerfu/bllm/internal/errs"
)

func newTestVerifier(ttl time.Duration) *Verifier {
	return New(config.AuthConfig{
		JWTSecret:     "test-secret",
		AdminKey:      "test-admin-key",
		TokenDuration: ttl,
	})
}

func TestTokenRoundTrip(t *testing.T) {
	v := newTestVerifier(time.Hour)

	token, err := v.IssueToken("gateway")
	require.NoError(t, err)

	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "gateway", claims.Subject)

	claims, err = v.VerifyToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "gateway", claims.Subject)
}

func TestVerifyTokenRejects(t *testing.T) {
	v := newTestVerifier(time.Hour)

	t.Run("empty", func(t *testing.T) {
		_, err := v.VerifyToken("")
		require.Error(t, err)
		assert.Equal(t, errs.CodeUnauthenticated, errs.CodeOf(err))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := v.VerifyToken("not-a-token")
		require.Error(t, err)
		assert.Equal(t, errs.CodeUnauthenticated, errs.CodeOf(err))
	})

	t.Run("expired", func(t *testing.T) {
		expired := newTestVerifier(-time.Hour)
		token, err := expired.IssueToken("gateway")
		require.NoError(t, err)

		_, err = v.VerifyToken(token)
		require.Error(t, err)
		assert.Equal(t, errs.CodeUnauthenticated, errs.CodeOf(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := New(config.AuthConfig{JWTSecret: "other-secret", TokenDuration: time.Hour})
		token, err := other.IssueToken("gateway")
		require.NoError(t, err)

		_, err = v.VerifyToken(token)
		require.Error(t, err)
	})

	t.Run("unsigned token", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "gateway",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.VerifyToken(raw)
		require.Error(t, err)
	})
}

func TestVerifyAdminKey(t *testing.T) {
	v := newTestVerifier(time.Hour)

	assert.NoError(t, v.VerifyAdminKey("test-admin-key"))

	err := v.VerifyAdminKey("wrong-key")
	require.Error(t, err)
	assert.Equal(t, errs.CodeUnauthenticated, errs.CodeOf(err))

	assert.Error(t, v.VerifyAdminKey(""))

	unconfigured := New(config.AuthConfig{JWTSecret: "s", TokenDuration: time.Hour})
	assert.Error(t, unconfigured.VerifyAdminKey(""))
}
