package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/crosspostr/crosspostr/configs"
)

const (
	tiktokAuthURL  = "https://www.tiktok.com/v2/auth/authorize"
	tiktokScopes   = "user.info.basic,user.info.profile,video.publish,video.upload"
	tiktokAPIBase  = "https://open.tiktokapis.com"
	tiktokOpenBase = "https://open-api.tiktok.com"
)

type tiktokAdapter struct {
	cfg      config.Config
	client   *http.Client
	apiBase  string
	openBase string
}

func NewTiktokAdapter(cfg config.Config) Adapter {
	return &tiktokAdapter{
		cfg:      cfg,
		client:   &http.Client{},
		apiBase:  tiktokAPIBase,
		openBase: tiktokOpenBase,
	}
}

func (a *tiktokAdapter) Platform() string { return "tiktok" }

// TikTok's v2 login kit binds the authorization code to a PKCE verifier.
func (a *tiktokAdapter) RequiresPKCE() bool { return true }

func (a *tiktokAdapter) BuildAuthURL(state, codeChallenge string) string {
	params := url.Values{}
	params.Add("client_key", a.cfg.TiktokClientKey)
	params.Add("scope", tiktokScopes)
	params.Add("response_type", "code")
	params.Add("redirect_uri", a.cfg.TiktokRedirectURI)
	params.Add("state", state)
	params.Add("code_challenge", codeChallenge)
	params.Add("code_challenge_method", "S256")

	return fmt.Sprintf("%s?%s", tiktokAuthURL, params.Encode())
}

type tiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *tiktokAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.cfg.TiktokClientKey)
	data.Set("client_secret", a.cfg.TiktokClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", a.cfg.TiktokRedirectURI)
	data.Set("code_verifier", codeVerifier)

	return a.tokenRequest(ctx, data)
}

func (a *tiktokAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.cfg.TiktokClientKey)
	data.Set("client_secret", a.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return a.tokenRequest(ctx, data)
}

func (a *tiktokAdapter) tokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("tiktok token request: %w", err)
	}
	defer resp.Body.Close()

	var tokenResponse tiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || tokenResponse.AccessToken == "" {
		return nil, classifyStatus("tiktok", resp.StatusCode, tokenResponse.ErrorDescription)
	}

	expiresAt := time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second)
	return &Token{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    &expiresAt,
	}, nil
}

type tiktokUserResponse struct {
	Data struct {
		User struct {
			OpenID      string `json:"open_id"`
			AvatarURL   string `json:"avatar_url"`
			DisplayName string `json:"display_name"`
			Username    string `json:"username"`
		} `json:"user"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

type tiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (a *tiktokAdapter) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	reqURL := a.apiBase + "/v2/user/info/?fields=open_id,avatar_url,display_name,username"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var result tiktokUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("tiktok", resp.StatusCode, result.Error.Message)
	}

	return &Profile{
		PlatformUserID: result.Data.User.OpenID,
		Username:       result.Data.User.Username,
		DisplayName:    result.Data.User.DisplayName,
		AvatarURL:      result.Data.User.AvatarURL,
	}, nil
}

type tiktokVideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type tiktokVideoSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokPhotoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type tiktokPhotoPostInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	AutoAddMusic   bool   `json:"auto_add_music"`
	DisableComment bool   `json:"disable_comment"`
}

type tiktokUploadResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

// Publish pushes media to TikTok by URL (PULL_FROM_URL): a single video goes
// through the video init endpoint, one or more images through the content
// init endpoint as a photo post.
func (a *tiktokAdapter) Publish(ctx context.Context, accessToken string, content Content, media []Media) (string, error) {
	if len(media) == 0 {
		return "", &Error{Platform: "tiktok", Code: "no_media", Message: "tiktok posts need at least one media item"}
	}

	var payload any
	endpoint := a.apiBase + "/v2/post/publish/video/init/"

	if len(media) == 1 && strings.HasPrefix(media[0].MimeType, "video/") {
		payload = struct {
			PostInfo   tiktokVideoPostInfo   `json:"post_info"`
			SourceInfo tiktokVideoSourceInfo `json:"source_info"`
		}{
			PostInfo: tiktokVideoPostInfo{
				Title:                 content.Caption,
				PrivacyLevel:          "PUBLIC_TO_EVERYONE",
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: tiktokVideoSourceInfo{
				Source:   "PULL_FROM_URL",
				VideoURL: media[0].URL,
			},
		}
	} else {
		endpoint = a.apiBase + "/v2/post/publish/content/init/"
		photos := make([]string, 0, len(media))
		for _, m := range media {
			photos = append(photos, m.URL)
		}
		payload = struct {
			PostInfo   tiktokPhotoPostInfo   `json:"post_info"`
			SourceInfo tiktokPhotoSourceInfo `json:"source_info"`
			PostMode   string                `json:"post_mode"`
			MediaType  string                `json:"media_type"`
		}{
			PostInfo: tiktokPhotoPostInfo{
				Title:        content.Caption,
				PrivacyLevel: "PUBLIC_TO_EVERYONE",
				AutoAddMusic: true,
			},
			SourceInfo: tiktokPhotoSourceInfo{
				Source:      "PULL_FROM_URL",
				PhotoImages: photos,
			},
			PostMode:  "DIRECT_POST",
			MediaType: "PHOTO",
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	defer resp.Body.Close()

	var result tiktokUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	if resp.StatusCode != http.StatusOK || result.Data.PublishID == "" {
		return "", classifyStatus("tiktok", resp.StatusCode, result.Error.Message)
	}

	return result.Data.PublishID, nil
}

func (a *tiktokAdapter) RevokeAccess(ctx context.Context, accountID, accessToken string) error {
	params := url.Values{}
	params.Add("open_id", accountID)
	params.Add("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.openBase+"/oauth/revoke/", strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke tiktok token, status code: %d", resp.StatusCode)
	}
	return nil
}
