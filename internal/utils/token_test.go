package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorToken(t *testing.T) {
	const secret = "test-secret"

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateOperatorToken(secret, "ops", time.Hour)
		require.NoError(t, err)
		assert.NoError(t, VerifyOperatorToken(secret, token))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := GenerateOperatorToken(secret, "ops", time.Hour)
		require.NoError(t, err)
		assert.ErrorIs(t, VerifyOperatorToken("other-secret", token), ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := GenerateOperatorToken(secret, "ops", -time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, VerifyOperatorToken(secret, token), ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.ErrorIs(t, VerifyOperatorToken(secret, "not.a.jwt"), ErrInvalidToken)
	})
}
