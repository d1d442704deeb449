package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/models"
	"github.com/crosspostr/crosspostr/internal/platforms"
	"github.com/crosspostr/crosspostr/internal/repository"
	"github.com/crosspostr/crosspostr/pkg/utils"
)

// TokenRefreshJob proactively rotates access tokens that expire within the
// next half hour, so most publish calls never hit the expired path.
type TokenRefreshJob struct {
	cfg      config.Config
	registry *platforms.Registry
	sr       repository.SocialAccountRepository
}

func NewTokenRefreshJob(cfg config.Config, registry *platforms.Registry, sr repository.SocialAccountRepository) *TokenRefreshJob {
	return &TokenRefreshJob{
		cfg:      cfg,
		registry: registry,
		sr:       sr,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.sr.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.refresh(ctx, acc); err != nil {
				slog.Info("unable to refresh token", "platform", acc.Platform, "account", acc.ID)
			}
		}(acc)
	}

	wg.Wait()
}

func (c *TokenRefreshJob) refresh(ctx context.Context, acc *models.SocialAccount) error {
	adapter, ok := c.registry.Get(acc.Platform)
	if !ok {
		return nil
	}

	if acc.RefreshToken == "" {
		return nil
	}

	refreshToken, err := utils.Decrypt(acc.RefreshToken, []byte(c.cfg.TokenKey))
	if err != nil {
		return err
	}

	token, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		if platforms.IsRevoked(err) {
			return c.sr.MarkInactive(ctx, acc.ID)
		}
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(c.cfg.TokenKey))
	if err != nil {
		return err
	}

	rotated := &models.SocialAccount{
		AccessToken:    encryptedAccessToken,
		TokenExpiresAt: token.ExpiresAt,
	}
	if token.RefreshToken != "" {
		encryptedRefreshToken, err := utils.Encrypt([]byte(token.RefreshToken), []byte(c.cfg.TokenKey))
		if err != nil {
			return err
		}
		rotated.RefreshToken = encryptedRefreshToken
	}

	return c.sr.SetToken(ctx, acc.ID, rotated)
}
