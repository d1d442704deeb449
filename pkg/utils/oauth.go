package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const (
	stateLength    = 32
	verifierLength = 64
)

// GenerateState returns an opaque random value used as the OAuth CSRF
// state parameter.
func GenerateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyState compares the state echoed back by the provider against the
// stored one in constant time.
func VerifyState(received, expected string) bool {
	if received == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}

// GeneratePKCEPair returns a PKCE code verifier and its S256 challenge
// (base64url-encoded SHA-256 of the verifier, no padding).
func GeneratePKCEPair() (verifier, challenge string, err error) {
	b := make([]byte, verifierLength)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
