package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	encrypted, err := Encrypt([]byte("act.1.very-secret-token"), key)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "very-secret-token")

	decrypted, err := Decrypt(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, "act.1.very-secret-token", decrypted)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	a, err := Encrypt([]byte("token"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("token"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	other := []byte("fedcba9876543210fedcba9876543210")

	encrypted, err := Encrypt([]byte("token"), key)
	require.NoError(t, err)

	_, err = Decrypt(encrypted, other)
	assert.Error(t, err)
}

func TestDecryptTampered(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	encrypted, err := Encrypt([]byte("token"), key)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = Decrypt(base64.StdEncoding.EncodeToString(raw), key)
	assert.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	short := base64.StdEncoding.EncodeToString([]byte("abc"))
	_, err := Decrypt(short, key)
	assert.Error(t, err)
}

func TestEncryptBadKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("token"), []byte("short"))
	assert.Error(t, err)
}
