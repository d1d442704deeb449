package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/crosspostr/crosspostr/internal/models"
)

type SocialAccountRepository interface {
	Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error
	MarkInactive(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

// Upsert inserts the account or, on a (user_id, platform, account_id) hit,
// overwrites profile fields and rotates the stored tokens. Reconnecting an
// account therefore never duplicates it.
func (r *socialAccountRepository) Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts(
			user_id,
			platform,
			account_id,
			account_name,
			account_username,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at,
			is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (user_id, platform, account_id) DO UPDATE SET
			account_name = EXCLUDED.account_name,
			account_username = EXCLUDED.account_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_active = TRUE,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		sa.UserID,
		sa.Platform,
		sa.AccountID,
		sa.AccountName,
		sa.AccountUsername,
		sa.ProfilePicture,
		sa.AccessToken,
		sa.RefreshToken,
		sa.TokenExpiresAt,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, platform, account_id, account_name, account_username,
			profile_picture_url, access_token, refresh_token, token_expires_at,
			is_active, created_at, updated_at
		FROM social_accounts WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var sa models.SocialAccount
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID, &sa.AccountName,
		&sa.AccountUsername, &sa.ProfilePicture, &sa.AccessToken, &refreshToken,
		&expiresAt, &sa.IsActive, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	sa.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		sa.TokenExpiresAt = &expiresAt.Time
	}

	return &sa, nil
}

// ListInfoByUserID never selects the token columns.
func (r *socialAccountRepository) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, platform, account_id, account_name, account_username,
			profile_picture_url, is_active, created_at
		FROM social_accounts WHERE user_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		err := rows.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID, &sa.AccountName,
			&sa.AccountUsername, &sa.ProfilePicture, &sa.IsActive, &sa.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, &sa)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return accounts, nil
}

func (r *socialAccountRepository) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, platform, access_token, refresh_token, token_expires_at
		FROM social_accounts
		WHERE is_active = TRUE
		AND token_expires_at IS NOT NULL
		AND token_expires_at > $1
		AND token_expires_at < $2
	`
	rows, err := r.db.QueryContext(ctx, query, initialTime, finalTime)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var socialAccounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		var refreshToken sql.NullString
		var expiresAt sql.NullTime
		err := rows.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccessToken, &refreshToken, &expiresAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		sa.RefreshToken = refreshToken.String
		if expiresAt.Valid {
			sa.TokenExpiresAt = &expiresAt.Time
		}
		socialAccounts = append(socialAccounts, &sa)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return socialAccounts, nil
}

func (r *socialAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM social_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *socialAccountRepository) SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	query := `
		UPDATE social_accounts
		SET
			access_token = COALESCE(NULLIF($2, ''), access_token),
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = COALESCE($4, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, accountID, sa.AccessToken, sa.RefreshToken, sa.TokenExpiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) MarkInactive(ctx context.Context, id int64) error {
	query := `UPDATE social_accounts SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM social_accounts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
