package models

import "time"

type Post struct {
	ID            int64      `db:"id" json:"id"`
	UserID        int64      `db:"user_id" json:"user_id"`
	Caption       string     `db:"caption" json:"caption"`
	Title         string     `db:"title" json:"title"`
	ScheduledTime *time.Time `db:"scheduled_time" json:"scheduled_time"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileType  string    `db:"file_type" json:"file_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	FileURL   string    `db:"file_url" json:"file_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id" json:"post_id"`
	AssetID      int64     `db:"asset_id" json:"asset_id"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// A post's status is derived from its publish results: published only when
// every target succeeded, failed only when every target failed permanently,
// partially_failed for a mix, publishing while any result is still pending.
const (
	PostStatusDraft           = "draft"
	PostStatusScheduled       = "scheduled"
	PostStatusPublishing      = "publishing"
	PostStatusPublished       = "published"
	PostStatusPartiallyFailed = "partially_failed"
	PostStatusFailed          = "failed"
)
