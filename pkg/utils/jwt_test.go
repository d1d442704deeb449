package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "42", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(testSecret, "42", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("other-secret", token)
	assert.Error(t, err)
}

func TestHandshakeTokenRoundTrip(t *testing.T) {
	token, err := GenerateHandshakeToken(testSecret, "42", "tiktok", "state-value", "verifier-value", 10*time.Minute)
	require.NoError(t, err)

	claims, err := ValidateHandshakeToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "tiktok", claims.Platform)
	assert.Equal(t, "state-value", claims.State)
	assert.Equal(t, "verifier-value", claims.Verifier)
}

func TestHandshakeTokenExpired(t *testing.T) {
	token, err := GenerateHandshakeToken(testSecret, "42", "tiktok", "state-value", "", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateHandshakeToken(testSecret, token)
	assert.Error(t, err)
}

func TestHandshakeTokenTampered(t *testing.T) {
	token, err := GenerateHandshakeToken(testSecret, "42", "tiktok", "state-value", "", 10*time.Minute)
	require.NoError(t, err)

	_, err = ValidateHandshakeToken(testSecret, token+"x")
	assert.Error(t, err)
}
