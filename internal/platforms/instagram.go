package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/crosspostr/crosspostr/configs"
)

const (
	instagramAuthURL   = "https://www.instagram.com/oauth/authorize"
	instagramScopes    = "instagram_business_basic,instagram_business_content_publish"
	instagramAPIBase   = "https://api.instagram.com"
	instagramGraphBase = "https://graph.instagram.com"
)

type instagramAdapter struct {
	cfg       config.Config
	client    *http.Client
	apiBase   string
	graphBase string
}

func NewInstagramAdapter(cfg config.Config) Adapter {
	return &instagramAdapter{
		cfg:       cfg,
		client:    &http.Client{},
		apiBase:   instagramAPIBase,
		graphBase: instagramGraphBase,
	}
}

func (a *instagramAdapter) Platform() string   { return "instagram" }
func (a *instagramAdapter) RequiresPKCE() bool { return false }

func (a *instagramAdapter) BuildAuthURL(state, codeChallenge string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.InstagramClientID)
	params.Add("scope", instagramScopes)
	params.Add("response_type", "code")
	params.Add("redirect_uri", a.cfg.InstagramRedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())
}

// ExchangeCode trades the code for a short-lived token, then immediately
// swaps that for a long-lived one; only the long-lived token is returned.
// Instagram's long-lived token doubles as its own refresh credential.
func (a *instagramAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	shortLived, err := a.getShortLivedToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get short-lived token: %w", err)
	}

	return a.getLongLivedToken(ctx, shortLived)
}

func (a *instagramAdapter) getShortLivedToken(ctx context.Context, code string) (string, error) {
	data := url.Values{}
	data.Set("client_id", a.cfg.InstagramClientID)
	data.Set("client_secret", a.cfg.InstagramClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", a.cfg.InstagramRedirectURI)
	data.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/oauth/access_token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("instagram", resp.StatusCode, "token exchange rejected")
	}

	var result struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	return result.AccessToken, nil
}

func (a *instagramAdapter) getLongLivedToken(ctx context.Context, shortLivedToken string) (*Token, error) {
	reqURL := fmt.Sprintf(
		"%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		a.graphBase,
		a.cfg.InstagramClientSecret,
		shortLivedToken,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("instagram", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode long-lived token response: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    &expiresAt,
	}, nil
}

// RefreshToken extends a long-lived token before it expires.
func (a *instagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	reqURL := fmt.Sprintf(
		"%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		a.graphBase,
		refreshToken,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("instagram", resp.StatusCode, "token refresh rejected")
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    &expiresAt,
	}, nil
}

func (a *instagramAdapter) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	reqURL := fmt.Sprintf("%s/me?fields=user_id,username,name,profile_picture_url&access_token=%s", a.graphBase, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("instagram", resp.StatusCode, "profile fetch rejected")
	}

	var result struct {
		UserID         string `json:"user_id"`
		Username       string `json:"username"`
		Name           string `json:"name"`
		ProfilePicture string `json:"profile_picture_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Profile{
		PlatformUserID: result.UserID,
		Username:       result.Username,
		DisplayName:    result.Name,
		AvatarURL:      result.ProfilePicture,
	}, nil
}

type instagramContainerResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish follows the two-step container flow: create a media container for
// the image or video URL, then publish the container. TikTok-style pull by
// URL, so media must live at a publicly reachable blob URL.
func (a *instagramAdapter) Publish(ctx context.Context, accessToken string, content Content, media []Media) (string, error) {
	if len(media) == 0 {
		return "", &Error{Platform: "instagram", Code: "no_media", Message: "instagram posts need at least one media item"}
	}

	containerID, err := a.createContainer(ctx, accessToken, content, media[0])
	if err != nil {
		return "", err
	}

	return a.publishContainer(ctx, accessToken, containerID)
}

func (a *instagramAdapter) createContainer(ctx context.Context, accessToken string, content Content, m Media) (string, error) {
	data := url.Values{}
	data.Set("caption", content.Caption)
	data.Set("access_token", accessToken)
	if strings.HasPrefix(m.MimeType, "video/") {
		data.Set("media_type", "REELS")
		data.Set("video_url", m.URL)
	} else {
		data.Set("image_url", m.URL)
	}

	return a.graphPost(ctx, "/me/media", data)
}

func (a *instagramAdapter) publishContainer(ctx context.Context, accessToken, containerID string) (string, error) {
	data := url.Values{}
	data.Set("creation_id", containerID)
	data.Set("access_token", accessToken)

	return a.graphPost(ctx, "/me/media_publish", data)
}

func (a *instagramAdapter) graphPost(ctx context.Context, path string, data url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.graphBase+path, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var result instagramContainerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	if resp.StatusCode != http.StatusOK || result.ID == "" {
		return "", classifyStatus("instagram", resp.StatusCode, result.Error.Message)
	}

	return result.ID, nil
}

// RevokeAccess is a no-op: Instagram has no token revocation endpoint for
// this flow, the long-lived token simply ages out.
func (a *instagramAdapter) RevokeAccess(ctx context.Context, accountID, accessToken string) error {
	return nil
}
