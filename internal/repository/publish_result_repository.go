package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/crosspostr/crosspostr/internal/models"
)

type PublishResultRepository interface {
	EnsurePending(ctx context.Context, postID, accountID int64) error
	GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PublishResult, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishResult, error)
	MarkSuccess(ctx context.Context, postID, accountID int64, platformPostID string) error
	MarkFailed(ctx context.Context, postID, accountID int64, message, kind string) error
	RecordAttempt(ctx context.Context, postID, accountID int64, message string) error
	RemoveByAccountID(ctx context.Context, accountID int64) error
	RemoveByPostID(ctx context.Context, postID int64) error
}

type publishResultRepository struct {
	db *sql.DB
}

func NewPublishResultRepository(db *sql.DB) PublishResultRepository {
	return &publishResultRepository{db: db}
}

// EnsurePending makes sure exactly one result row exists for the pair; an
// existing row (pending, failed or success) is left untouched.
func (r *publishResultRepository) EnsurePending(ctx context.Context, postID, accountID int64) error {
	query := `
		INSERT INTO publish_results (post_id, account_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (post_id, account_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, postID, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishResultRepository) GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PublishResult, error) {
	query := `
		SELECT id, post_id, account_id, status, platform_post_id, error_message,
			error_kind, attempt_count, last_attempt_at, created_at
		FROM publish_results
		WHERE post_id = $1 AND account_id = $2
	`
	row := r.db.QueryRowContext(ctx, query, postID, accountID)

	pr, err := scanPublishResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return pr, nil
}

func (r *publishResultRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishResult, error) {
	query := `
		SELECT id, post_id, account_id, status, platform_post_id, error_message,
			error_kind, attempt_count, last_attempt_at, created_at
		FROM publish_results
		WHERE post_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var results []*models.PublishResult
	for rows.Next() {
		pr, err := scanPublishResult(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		results = append(results, pr)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return results, nil
}

func (r *publishResultRepository) MarkSuccess(ctx context.Context, postID, accountID int64, platformPostID string) error {
	query := `
		UPDATE publish_results
		SET status = 'success',
			platform_post_id = $3,
			error_message = '',
			error_kind = '',
			attempt_count = attempt_count + 1,
			last_attempt_at = CURRENT_TIMESTAMP
		WHERE post_id = $1 AND account_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, postID, accountID, platformPostID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishResultRepository) MarkFailed(ctx context.Context, postID, accountID int64, message, kind string) error {
	query := `
		UPDATE publish_results
		SET status = 'failed',
			error_message = $3,
			error_kind = $4,
			attempt_count = attempt_count + 1,
			last_attempt_at = CURRENT_TIMESTAMP
		WHERE post_id = $1 AND account_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, postID, accountID, message, kind)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordAttempt keeps the result pending after a transient failure so a
// later pass retries it.
func (r *publishResultRepository) RecordAttempt(ctx context.Context, postID, accountID int64, message string) error {
	query := `
		UPDATE publish_results
		SET error_message = $3,
			error_kind = 'transient',
			attempt_count = attempt_count + 1,
			last_attempt_at = CURRENT_TIMESTAMP
		WHERE post_id = $1 AND account_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, postID, accountID, message)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishResultRepository) RemoveByAccountID(ctx context.Context, accountID int64) error {
	query := `DELETE FROM publish_results WHERE account_id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishResultRepository) RemoveByPostID(ctx context.Context, postID int64) error {
	query := `DELETE FROM publish_results WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanPublishResult(row rowScanner) (*models.PublishResult, error) {
	var pr models.PublishResult
	var platformPostID, errorMessage, errorKind sql.NullString
	var lastAttemptAt sql.NullTime

	err := row.Scan(&pr.ID, &pr.PostID, &pr.AccountID, &pr.Status, &platformPostID,
		&errorMessage, &errorKind, &pr.AttemptCount, &lastAttemptAt, &pr.CreatedAt)
	if err != nil {
		return nil, err
	}

	pr.PlatformPostID = platformPostID.String
	pr.ErrorMessage = errorMessage.String
	pr.ErrorKind = errorKind.String
	if lastAttemptAt.Valid {
		pr.LastAttemptAt = &lastAttemptAt.Time
	}

	return &pr, nil
}
