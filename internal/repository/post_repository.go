package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/crosspostr/crosspostr/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error)
	Claim(ctx context.Context, postID int64, staleBefore time.Time) (bool, error)
	UpdatePostStatus(ctx context.Context, status string, postID int64) error
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, caption, title, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Caption, post.Title, post.ScheduledTime, post.Status).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Caption, post.Title, post.ScheduledTime, post.Status).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT id, user_id, caption, title, scheduled_time, status, created_at, updated_at FROM posts WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	post, err := scanPost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT id, user_id, caption, title, scheduled_time, status, created_at, updated_at FROM posts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// ListDue returns scheduled posts whose time has passed (a NULL scheduled
// time means "next pass"), plus publishing posts untouched since staleBefore,
// which a crashed invocation left behind. Oldest first, bounded.
func (r *postRepository) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	query := `
		SELECT id, user_id, caption, title, scheduled_time, status, created_at, updated_at
		FROM posts
		WHERE (status = 'scheduled' AND (scheduled_time IS NULL OR scheduled_time <= $1))
		OR (status = 'publishing' AND updated_at < $2)
		ORDER BY scheduled_time ASC NULLS FIRST
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, now, staleBefore, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// Claim flips the post to publishing only if it is still claimable: either
// scheduled/draft, or stuck in publishing since before staleBefore. The
// single conditional UPDATE is what keeps overlapping invocations from both
// winning the same post.
func (r *postRepository) Claim(ctx context.Context, postID int64, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = 'publishing', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		AND (status IN ('draft', 'scheduled') OR (status = 'publishing' AND updated_at < $2))
	`

	result, err := r.db.ExecContext(ctx, query, postID, staleBefore)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	return affected == 1, nil
}

func (r *postRepository) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var scheduledTime sql.NullTime
	err := row.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &scheduledTime, &post.Status, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduledTime.Valid {
		post.ScheduledTime = &scheduledTime.Time
	}
	return &post, nil
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}
