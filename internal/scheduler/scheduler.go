package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/models"
	"github.com/crosspostr/crosspostr/internal/platforms"
	"github.com/crosspostr/crosspostr/internal/repository"
	"github.com/crosspostr/crosspostr/pkg/utils"
)

const (
	batchSize      = 20
	maxAttempts    = 5
	staleAfter     = 10 * time.Minute
	perCallTimeout = 60 * time.Second
	runBudget      = 4 * time.Minute
)

// Summary is what one scheduler invocation reports back to its trigger.
type Summary struct {
	Processed       int       `json:"processed"`
	Published       int       `json:"published"`
	PartiallyFailed int       `json:"partially_failed"`
	Failed          int       `json:"failed"`
	Pending         int       `json:"pending"`
	Timestamp       time.Time `json:"timestamp"`
}

// Scheduler fans due posts out to their target accounts. It keeps no state
// between invocations and tolerates overlapping runs: the per-post claim in
// the post repository decides who wins, and the pre-attempt success check
// keeps a (post, account) pair from ever being published twice.
type Scheduler struct {
	cfg      config.Config
	registry *platforms.Registry
	pr       repository.PostRepository
	ta       repository.TargetAccountRepository
	ac       repository.SocialAccountRepository
	res      repository.PublishResultRepository
	pm       repository.PostMediaRepository
	ma       repository.MediaAssetRepository
	budget   time.Duration
}

func New(
	cfg config.Config,
	registry *platforms.Registry,
	pr repository.PostRepository,
	ta repository.TargetAccountRepository,
	ac repository.SocialAccountRepository,
	res repository.PublishResultRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		pr:       pr,
		ta:       ta,
		ac:       ac,
		res:      res,
		pm:       pm,
		ma:       ma,
		budget:   runBudget,
	}
}

// Run executes one scheduler pass. Posts left over when the wall-clock
// budget runs out stay due and are picked up by the next pass.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	deadline := started.Add(s.budget)
	staleBefore := started.Add(-staleAfter)

	summary := &Summary{Timestamp: started}

	posts, err := s.pr.ListDue(ctx, started, staleBefore, batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing due posts: %w", err)
	}

	for i, post := range posts {
		if time.Now().After(deadline) {
			log.Printf("scheduler budget exhausted, %d posts left for next pass", len(posts)-i)
			break
		}
		if ctx.Err() != nil {
			break
		}

		claimed, err := s.pr.Claim(ctx, post.ID, staleBefore)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if !claimed {
			// another invocation got there first
			continue
		}

		status, err := s.publishClaimed(ctx, post)
		if err != nil {
			slog.Info(err.Error())
			continue
		}

		summary.Processed++
		switch status {
		case models.PostStatusPublished:
			summary.Published++
		case models.PostStatusPartiallyFailed:
			summary.PartiallyFailed++
		case models.PostStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	return summary, nil
}

// PublishPost runs the claim+publish path for one post on behalf of its
// owner (the manual publish endpoint). Ownership must be checked by the
// caller's handler via the service layer; here the post just has to exist
// and belong to userID.
func (s *Scheduler) PublishPost(ctx context.Context, userID, postID int64) (*Summary, error) {
	isOwner, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, errs.ErrNotFound
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil || post == nil {
		return nil, errs.ErrNotFound
	}

	claimed, err := s.pr.Claim(ctx, postID, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: post is not publishable", errs.ErrValidation)
	}

	status, err := s.publishClaimed(ctx, post)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Processed: 1, Timestamp: time.Now()}
	switch status {
	case models.PostStatusPublished:
		summary.Published = 1
	case models.PostStatusPartiallyFailed:
		summary.PartiallyFailed = 1
	case models.PostStatusFailed:
		summary.Failed = 1
	default:
		summary.Pending = 1
	}

	return summary, nil
}

// publishClaimed attempts every target account lacking a success result and
// recomputes the post's aggregate status. Account attempts are isolated:
// one failing never aborts the rest.
func (s *Scheduler) publishClaimed(ctx context.Context, post *models.Post) (string, error) {
	targets, err := s.ta.ListByPostID(ctx, post.ID)
	if err != nil {
		return "", fmt.Errorf("listing targets for post %d: %w", post.ID, err)
	}

	if len(targets) == 0 {
		if err := s.pr.UpdatePostStatus(ctx, models.PostStatusFailed, post.ID); err != nil {
			return "", err
		}
		return models.PostStatusFailed, nil
	}

	media, content, err := s.loadContent(ctx, post)
	if err != nil {
		return "", err
	}

	for _, target := range targets {
		if err := s.publishToAccount(ctx, post, target.AccountID, content, media); err != nil {
			log.Printf("error publishing post %d to account %d: %v", post.ID, target.AccountID, err)
		}
	}

	results, err := s.res.ListByPostID(ctx, post.ID)
	if err != nil {
		return "", err
	}

	status := aggregateStatus(results, len(targets))
	if err := s.pr.UpdatePostStatus(ctx, status, post.ID); err != nil {
		return "", err
	}

	return status, nil
}

func (s *Scheduler) loadContent(ctx context.Context, post *models.Post) ([]platforms.Media, platforms.Content, error) {
	content := platforms.Content{Caption: post.Caption, Title: post.Title}

	postMedia, err := s.pm.ListByPostID(ctx, post.ID)
	if err != nil {
		return nil, content, fmt.Errorf("listing media for post %d: %w", post.ID, err)
	}

	media := make([]platforms.Media, 0, len(postMedia))
	for _, pm := range postMedia {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, content, err
		}
		if asset == nil {
			continue
		}
		media = append(media, platforms.Media{URL: asset.FileURL, MimeType: asset.FileType})
	}

	return media, content, nil
}

// publishToAccount is the at-most-once half of the delivery contract: it
// checks for an existing success result before issuing any platform call.
func (s *Scheduler) publishToAccount(ctx context.Context, post *models.Post, accountID int64, content platforms.Content, media []platforms.Media) error {
	if err := s.res.EnsurePending(ctx, post.ID, accountID); err != nil {
		return err
	}

	result, err := s.res.GetByPostAndAccount(ctx, post.ID, accountID)
	if err != nil {
		return err
	}
	if result == nil {
		return errors.New("publish result row missing after ensure")
	}

	if result.Status == models.ResultStatusSuccess {
		return nil
	}
	if result.Status == models.ResultStatusFailed {
		// permanent; only a new post retries this account
		return nil
	}

	account, err := s.ac.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil || !account.IsActive {
		return s.res.MarkFailed(ctx, post.ID, accountID, "account disconnected or inactive", models.ErrorKindPermanent)
	}

	adapter, ok := s.registry.Get(account.Platform)
	if !ok {
		return s.res.MarkFailed(ctx, post.ID, accountID, "unknown platform "+account.Platform, models.ErrorKindPermanent)
	}

	accessToken, err := s.freshAccessToken(ctx, adapter, account)
	if err != nil {
		return s.recordFailure(ctx, post.ID, account, result, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	platformPostID, err := adapter.Publish(callCtx, accessToken, content, media)
	if err != nil {
		return s.recordFailure(ctx, post.ID, account, result, err)
	}

	return s.res.MarkSuccess(ctx, post.ID, accountID, platformPostID)
}

// freshAccessToken decrypts the stored token and refreshes it through the
// adapter when past its expiry. Rotated tokens are persisted before use.
func (s *Scheduler) freshAccessToken(ctx context.Context, adapter platforms.Adapter, account *models.SocialAccount) (string, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.TokenKey))
	if err != nil {
		return "", fmt.Errorf("decrypting access token: %w", err)
	}

	if account.TokenExpiresAt == nil || account.TokenExpiresAt.After(time.Now()) {
		return accessToken, nil
	}

	if account.RefreshToken == "" {
		return "", &platforms.Error{
			Platform: account.Platform,
			Code:     "token_expired",
			Message:  "access token expired and no refresh token stored",
			Revoked:  true,
		}
	}

	refreshToken, err := utils.Decrypt(account.RefreshToken, []byte(s.cfg.TokenKey))
	if err != nil {
		return "", fmt.Errorf("decrypting refresh token: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	token, err := adapter.RefreshToken(callCtx, refreshToken)
	if err != nil {
		return "", err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.TokenKey))
	if err != nil {
		return "", err
	}

	rotated := &models.SocialAccount{
		AccessToken:    encryptedAccessToken,
		TokenExpiresAt: token.ExpiresAt,
	}
	if token.RefreshToken != "" {
		encryptedRefreshToken, err := utils.Encrypt([]byte(token.RefreshToken), []byte(s.cfg.TokenKey))
		if err != nil {
			return "", err
		}
		rotated.RefreshToken = encryptedRefreshToken
	}

	if err := s.ac.SetToken(ctx, account.ID, rotated); err != nil {
		return "", err
	}

	return token.AccessToken, nil
}

// recordFailure classifies err and writes the result row accordingly:
// permanent failures are final, transient ones stay pending until the
// attempt ceiling converts them.
func (s *Scheduler) recordFailure(ctx context.Context, postID int64, account *models.SocialAccount, result *models.PublishResult, err error) error {
	if platforms.IsRevoked(err) {
		if markErr := s.ac.MarkInactive(ctx, account.ID); markErr != nil {
			slog.Info(markErr.Error())
		}
		return s.res.MarkFailed(ctx, postID, account.ID, err.Error(), models.ErrorKindPermanent)
	}

	if !platforms.IsTemporary(err) {
		return s.res.MarkFailed(ctx, postID, account.ID, err.Error(), models.ErrorKindPermanent)
	}

	if result.AttemptCount+1 >= maxAttempts {
		return s.res.MarkFailed(ctx, postID, account.ID,
			fmt.Sprintf("retry limit reached: %v", err), models.ErrorKindPermanent)
	}

	return s.res.RecordAttempt(ctx, postID, account.ID, err.Error())
}

// aggregateStatus derives the post status from its results: published only
// when every target succeeded, failed only when every target failed,
// publishing while anything is still pending, partially_failed otherwise.
func aggregateStatus(results []*models.PublishResult, targetCount int) string {
	var success, failed, pending int
	for _, r := range results {
		switch r.Status {
		case models.ResultStatusSuccess:
			success++
		case models.ResultStatusFailed:
			failed++
		default:
			pending++
		}
	}

	// targets with no result row yet count as pending
	pending += targetCount - len(results)

	switch {
	case pending > 0:
		return models.PostStatusPublishing
	case failed == 0:
		return models.PostStatusPublished
	case success == 0:
		return models.PostStatusFailed
	default:
		return models.PostStatusPartiallyFailed
	}
}
