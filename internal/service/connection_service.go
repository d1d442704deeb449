package service

import (
	"context"
	"fmt"
	"log/slog"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/models"
	"github.com/crosspostr/crosspostr/internal/platforms"
	"github.com/crosspostr/crosspostr/internal/repository"
	"github.com/crosspostr/crosspostr/pkg/utils"
)

// Handshake is the secret material generated at initiation. The handler
// carries it to the callback inside a signed short-lived cookie; nothing is
// kept server-side.
type Handshake struct {
	State    string
	Verifier string
}

type ConnectionService interface {
	Initiate(ctx context.Context, userID int64, platform string) (string, *Handshake, error)
	Complete(ctx context.Context, userID int64, platform, code, verifier string) error
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID, accountID int64) error
}

type connectionService struct {
	cfg      config.Config
	registry *platforms.Registry
	sa       repository.SocialAccountRepository
	ta       repository.TargetAccountRepository
	pr       repository.PublishResultRepository
}

func NewConnectionService(
	cfg config.Config,
	registry *platforms.Registry,
	sa repository.SocialAccountRepository,
	ta repository.TargetAccountRepository,
	pr repository.PublishResultRepository) ConnectionService {
	return &connectionService{
		cfg:      cfg,
		registry: registry,
		sa:       sa,
		ta:       ta,
		pr:       pr,
	}
}

// Initiate generates the state (and a PKCE pair when the platform needs one)
// and returns the provider authorization URL. No account record is touched.
func (s *connectionService) Initiate(ctx context.Context, userID int64, platform string) (string, *Handshake, error) {
	if userID == 0 {
		return "", nil, errs.ErrUnauthorized
	}

	adapter, ok := s.registry.Get(platform)
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown platform", errs.ErrValidation)
	}

	state, err := utils.GenerateState()
	if err != nil {
		return "", nil, err
	}

	hs := &Handshake{State: state}

	var challenge string
	if adapter.RequiresPKCE() {
		verifier, ch, err := utils.GeneratePKCEPair()
		if err != nil {
			return "", nil, err
		}
		hs.Verifier = verifier
		challenge = ch
	}

	return adapter.BuildAuthURL(state, challenge), hs, nil
}

// Complete runs the code exchange and profile fetch, then upserts the
// account. The caller has already verified the state; a PKCE platform with a
// missing verifier is still rejected here as a handshake failure.
func (s *connectionService) Complete(ctx context.Context, userID int64, platform, code, verifier string) error {
	if code == "" {
		return fmt.Errorf("%w: code is empty", errs.ErrValidation)
	}

	adapter, ok := s.registry.Get(platform)
	if !ok {
		return fmt.Errorf("%w: unknown platform", errs.ErrValidation)
	}

	if adapter.RequiresPKCE() && verifier == "" {
		return errs.ErrOAuthState
	}

	token, err := adapter.ExchangeCode(ctx, code, verifier)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	profile, err := adapter.GetProfile(ctx, token.AccessToken)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.TokenKey))
	if err != nil {
		return err
	}

	var encryptedRefreshToken string
	if token.RefreshToken != "" {
		encryptedRefreshToken, err = utils.Encrypt([]byte(token.RefreshToken), []byte(s.cfg.TokenKey))
		if err != nil {
			return err
		}
	}

	accountInfo := &models.SocialAccount{
		UserID:          userID,
		Platform:        platform,
		AccountID:       profile.PlatformUserID,
		AccountName:     profile.DisplayName,
		AccountUsername: profile.Username,
		ProfilePicture:  profile.AvatarURL,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedRefreshToken,
		TokenExpiresAt:  token.ExpiresAt,
	}

	if _, err := s.sa.Upsert(ctx, accountInfo); err != nil {
		return fmt.Errorf("error saving social account: %w", err)
	}

	return nil
}

func (s *connectionService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		return nil, errs.ErrUnauthorized
	}

	accounts, err := s.sa.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts: %w", err)
	}

	// the repo never selects token columns; the marker makes the redaction
	// explicit in responses
	for _, acc := range accounts {
		acc.AccessToken = models.TokenRedacted
		acc.RefreshToken = models.TokenRedacted
	}

	return accounts, nil
}

// Disconnect deletes the account and its publish results. Posts targeting
// other accounts are untouched. Remote revocation is best effort.
func (s *connectionService) Disconnect(ctx context.Context, userID, accountID int64) error {
	if userID == 0 {
		return errs.ErrUnauthorized
	}

	isOwner, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !isOwner {
		return errs.ErrNotFound
	}

	accountInfo, err := s.sa.GetByID(ctx, accountID)
	if err != nil || accountInfo == nil {
		return errs.ErrNotFound
	}

	if adapter, ok := s.registry.Get(accountInfo.Platform); ok {
		accessToken, err := utils.Decrypt(accountInfo.AccessToken, []byte(s.cfg.TokenKey))
		if err == nil {
			if err := adapter.RevokeAccess(ctx, accountInfo.AccountID, accessToken); err != nil {
				slog.Info(err.Error())
			}
		}
	}

	if err := s.pr.RemoveByAccountID(ctx, accountID); err != nil {
		return fmt.Errorf("error removing publish results: %w", err)
	}

	// targeting rows reference the account; they must go before the
	// account row does
	if err := s.ta.RemoveByAccountID(ctx, accountID); err != nil {
		return fmt.Errorf("error removing target rows: %w", err)
	}

	if err := s.sa.Remove(ctx, accountID); err != nil {
		return fmt.Errorf("error removing account: %w", err)
	}

	return nil
}
