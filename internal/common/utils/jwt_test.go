// internal/common/utils/jwt_test.go

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestJWTRoundTrip(t *testing.T) {
	claims := AccessTokenClaims("665f1f77bcf86cd799439011", "alice_a", time.Hour)

	token, err := GenerateJWT(claims, testSecret)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := ValidateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "665f1f77bcf86cd799439011", parsed.UserID)
	assert.Equal(t, "alice_a", parsed.Username)
	assert.Equal(t, "access", parsed.Type)
	assert.Equal(t, "hearsay", parsed.Issuer)
}

func TestValidateJWTRejections(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateJWT(AccessTokenClaims("665f1f77bcf86cd799439011", "alice_a", time.Hour), testSecret)
		require.NoError(t, err)

		_, err = ValidateJWT(token, "another-secret")
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateJWT(AccessTokenClaims("665f1f77bcf86cd799439011", "alice_a", -time.Minute), testSecret)
		require.NoError(t, err)

		_, err = ValidateJWT(token, testSecret)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := ValidateJWT("not.a.token", testSecret)
		assert.Error(t, err)
	})

	t.Run("missing user id", func(t *testing.T) {
		token, err := GenerateJWT(&JWTClaims{
			Type:      "access",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		}, testSecret)
		require.NoError(t, err)

		_, err = ValidateJWT(token, testSecret)
		assert.Error(t, err)
	})
}
