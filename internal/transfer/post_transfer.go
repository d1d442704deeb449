package transfer

import "github.com/crosspostr/crosspostr/internal/models"

type PostCreation struct {
	Caption        string
	Title          string
	ScheduledTime  string
	TargetAccounts string
	Draft          bool
}

// PostDetail is a post plus its per-account publish results.
type PostDetail struct {
	Post    *models.Post            `json:"post"`
	Results []*models.PublishResult `json:"results"`
}
