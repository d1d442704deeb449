package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/crosspostr/crosspostr/internal/models"
)

type TargetAccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ta *models.TargetAccount) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.TargetAccount, error)
	RemoveByPostID(ctx context.Context, postID int64) error
	RemoveByAccountID(ctx context.Context, accountID int64) error
}

type targetAccountRepository struct {
	db *sql.DB
}

func NewTargetAccountRepository(db *sql.DB) TargetAccountRepository {
	return &targetAccountRepository{db: db}
}

func (r *targetAccountRepository) Create(ctx context.Context, tx *sql.Tx, ta *models.TargetAccount) error {
	var err error

	query := `
		INSERT INTO target_accounts (post_id, account_id)
		VALUES ($1, $2)
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, ta.PostID, ta.AccountID)
	} else {
		_, err = r.db.ExecContext(ctx, query, ta.PostID, ta.AccountID)
	}

	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *targetAccountRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.TargetAccount, error) {
	query := "SELECT post_id, account_id FROM target_accounts WHERE post_id = $1"

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var accounts []*models.TargetAccount
	for rows.Next() {
		var ta models.TargetAccount
		if err := rows.Scan(&ta.PostID, &ta.AccountID); err != nil {
			slog.Info(err.Error())
			return nil, fmt.Errorf("scan row: %w", err)
		}
		accounts = append(accounts, &ta)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return accounts, nil
}

func (r *targetAccountRepository) RemoveByPostID(ctx context.Context, postID int64) error {
	query := `DELETE FROM target_accounts WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RemoveByAccountID clears every targeting row for an account so the
// account row itself can be deleted without violating the reference.
func (r *targetAccountRepository) RemoveByAccountID(ctx context.Context, accountID int64) error {
	query := `DELETE FROM target_accounts WHERE account_id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
