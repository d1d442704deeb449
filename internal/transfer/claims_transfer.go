package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// HandshakeClaims ride in the short-lived signed cookie set when an OAuth
// flow is initiated. The cookie is the only place the state and PKCE
// verifier live between the redirect and the callback.
type HandshakeClaims struct {
	State    string `json:"state"`
	Verifier string `json:"verifier,omitempty"`
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}
