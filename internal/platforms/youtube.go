package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	config "github.com/crosspostr/crosspostr/configs"
)

type youtubeAdapter struct {
	cfg    config.Config
	client *http.Client
}

func NewYoutubeAdapter(cfg config.Config) Adapter {
	return &youtubeAdapter{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (a *youtubeAdapter) Platform() string   { return "youtube" }
func (a *youtubeAdapter) RequiresPKCE() bool { return false }

func (a *youtubeAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.GoogleClientID,
		ClientSecret: a.cfg.GoogleClientSecret,
		RedirectURL:  a.cfg.GoogleRedirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
			"https://www.googleapis.com/auth/youtube.upload",
		},
		Endpoint: google.Endpoint,
	}
}

func (a *youtubeAdapter) BuildAuthURL(state, codeChallenge string) string {
	// access_type=offline is what makes Google hand back a refresh token.
	return a.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (a *youtubeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	token, err := a.oauthConfig().Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return nil, &Error{Platform: "youtube", Code: "exchange_failed", Message: err.Error()}
	}

	if token.RefreshToken == "" {
		return nil, &Error{Platform: "youtube", Code: "no_refresh_token", Message: "refresh token is empty"}
	}

	expiry := token.Expiry
	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    &expiry,
	}, nil
}

func (a *youtubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	tokenSource := a.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := tokenSource.Token()
	if err != nil {
		slog.Info(err.Error())
		if rerr, ok := err.(*oauth2.RetrieveError); ok {
			return nil, classifyStatus("youtube", rerr.Response.StatusCode, rerr.ErrorCode)
		}
		return nil, err
	}

	expiry := token.Expiry
	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    &expiry,
	}, nil
}

func (a *youtubeAdapter) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v1/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error fetching user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("youtube", resp.StatusCode, "userinfo fetch rejected")
	}

	var userInfo struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error decoding user info: %w", err)
	}

	return &Profile{
		PlatformUserID: userInfo.ID,
		Username:       userInfo.Email,
		DisplayName:    userInfo.Name,
		AvatarURL:      userInfo.Picture,
	}, nil
}

// Publish downloads the first video from blob storage to a temp file and
// runs a youtube/v3 upload. YouTube takes exactly one video per post.
func (a *youtubeAdapter) Publish(ctx context.Context, accessToken string, content Content, media []Media) (string, error) {
	if len(media) == 0 {
		return "", &Error{Platform: "youtube", Code: "no_media", Message: "youtube posts need a video"}
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	tempFile, err := a.downloadToTemp(ctx, media[0].URL)
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return "", err
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       content.Title,
			Description: content.Caption,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		slog.Info(err.Error())
		return "", &Error{Platform: "youtube", Code: "upload_failed", Message: err.Error(), Temporary: true}
	}

	return response.Id, nil
}

func (a *youtubeAdapter) downloadToTemp(ctx context.Context, blobURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error downloading video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected response status: %d", resp.StatusCode)
	}

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		return "", fmt.Errorf("error saving video to temporary file: %w", err)
	}

	return tempFile.Name(), nil
}

func (a *youtubeAdapter) RevokeAccess(ctx context.Context, accountID, accessToken string) error {
	payload := []byte("token=" + accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://oauth2.googleapis.com/revoke", bytes.NewBuffer(payload))
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
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
