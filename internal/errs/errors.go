// Package errs holds the sentinel errors services return to handlers.
// Handlers translate them to HTTP statuses; ErrNotFound deliberately covers
// both missing and not-owned resources so responses don't confirm existence.
package errs

import "errors"

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrOAuthState   = errors.New("oauth state invalid or expired")
)
