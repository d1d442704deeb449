package models

import "time"

// PublishResult records one (post, account) publish outcome. At most one row
// exists per pair; a success row is never attempted again.
type PublishResult struct {
	ID             int64      `db:"id" json:"id"`
	PostID         int64      `db:"post_id" json:"post_id"`
	AccountID      int64      `db:"account_id" json:"account_id"`
	Status         string     `db:"status" json:"status"`
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id"`
	ErrorMessage   string     `db:"error_message" json:"error_message"`
	ErrorKind      string     `db:"error_kind" json:"error_kind"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	LastAttemptAt  *time.Time `db:"last_attempt_at" json:"last_attempt_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

const (
	ResultStatusPending = "pending"
	ResultStatusSuccess = "success"
	ResultStatusFailed  = "failed"
)

const (
	ErrorKindTransient = "transient"
	ErrorKindPermanent = "permanent"
)
