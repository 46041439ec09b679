package admin

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sante/internal/platform/secrets"
)

const signingKey = "test-signing-key"

func signedToken(t *testing.T, key, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestTokenValidator_JWT(t *testing.T) {
	v := NewTokenValidator(signingKey, "")

	t.Run("accepts a valid token and extracts the subject", func(t *testing.T) {
		claims, err := v.ValidateToken(signedToken(t, signingKey, "ops-admin"))
		require.NoError(t, err)
		assert.Equal(t, "ops-admin", claims.ActorID)
	})

	t.Run("rejects a token signed with another key", func(t *testing.T) {
		_, err := v.ValidateToken(signedToken(t, "other-key", "ops-admin"))
		assert.Error(t, err)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ops-admin",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(signingKey))
		require.NoError(t, err)
		_, err = v.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("rejects a token without a subject", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(signingKey))
		require.NoError(t, err)
		_, err = v.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("rejects the alg=none downgrade", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ops-admin"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.ValidateToken(signed)
		assert.Error(t, err)
	})
}

func TestTokenValidator_StaticToken(t *testing.T) {
	hash, err := secrets.Hash("super-secret-token")
	require.NoError(t, err)

	t.Run("accepts the static token when no JWT key is configured", func(t *testing.T) {
		v := NewTokenValidator("", hash)
		claims, err := v.ValidateToken("super-secret-token")
		require.NoError(t, err)
		assert.Equal(t, "static-admin", claims.ActorID)
	})

	t.Run("falls back to the static token when JWT parsing fails", func(t *testing.T) {
		v := NewTokenValidator(signingKey, hash)
		claims, err := v.ValidateToken("super-secret-token")
		require.NoError(t, err)
		assert.Equal(t, "static-admin", claims.ActorID)
	})

	t.Run("rejects a wrong static token", func(t *testing.T) {
		v := NewTokenValidator("", hash)
		_, err := v.ValidateToken("not-the-token")
		assert.Error(t, err)
	})

	t.Run("rejects everything when nothing is configured", func(t *testing.T) {
		v := NewTokenValidator("", "")
		_, err := v.ValidateToken("anything")
		assert.Error(t, err)
	})
}
