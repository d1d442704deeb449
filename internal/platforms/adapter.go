package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	config "github.com/crosspostr/crosspostr/configs"
)

type Profile struct {
	PlatformUserID string
	Username       string
	DisplayName    string
	AvatarURL      string
}

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type Media struct {
	URL      string
	MimeType string
}

type Content struct {
	Caption string
	Title   string
}

// Adapter is the uniform contract over one external platform. Token values
// cross this boundary in plaintext; callers decrypt right before the call
// and never persist the plaintext.
type Adapter interface {
	Platform() string
	RequiresPKCE() bool
	BuildAuthURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error)
	GetProfile(ctx context.Context, accessToken string) (*Profile, error)
	Publish(ctx context.Context, accessToken string, content Content, media []Media) (string, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	RevokeAccess(ctx context.Context, accountID, accessToken string) error
}

// Error is the classified failure an adapter reports. Temporary failures are
// retried by later scheduler passes; Revoked marks credential failures that
// should deactivate the stored account.
type Error struct {
	Platform  string
	Code      string
	Message   string
	Temporary bool
	Revoked   bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Platform, e.Message, e.Code)
}

// IsTemporary reports whether err is a platform error worth retrying.
// Anything that is not a classified platform error (network failures,
// timeouts) counts as temporary.
func IsTemporary(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	return true
}

func IsRevoked(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Revoked
}

// classifyStatus maps an HTTP status from a platform API to an Error.
// 401/403 mean the token is no longer good; 429 and 5xx are retryable.
func classifyStatus(platform string, status int, message string) *Error {
	e := &Error{
		Platform: platform,
		Code:     fmt.Sprintf("http_%d", status),
		Message:  message,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Revoked = true
	case status == http.StatusTooManyRequests || status >= 500:
		e.Temporary = true
	}
	return e
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	r.Register(NewTiktokAdapter(cfg))
	r.Register(NewInstagramAdapter(cfg))
	r.Register(NewYoutubeAdapter(cfg))
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
