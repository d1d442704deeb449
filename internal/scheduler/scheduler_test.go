package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/models"
	"github.com/crosspostr/crosspostr/internal/platforms"
	"github.com/crosspostr/crosspostr/pkg/utils"
)

const testTokenKey = "0123456789abcdef0123456789abcdef"

type fakePostRepo struct {
	posts map[int64]*models.Post
	stale map[int64]bool
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[int64]*models.Post{}, stale: map[int64]bool{}}
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	post, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return post, nil
}

func (r *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (r *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	post, ok := r.posts[postID]
	return ok && post.UserID == userID, nil
}

func (r *fakePostRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	var due []*models.Post
	for _, post := range r.posts {
		if post.Status == models.PostStatusScheduled && (post.ScheduledTime == nil || !post.ScheduledTime.After(now)) {
			due = append(due, post)
		}
		if post.Status == models.PostStatusPublishing && r.stale[post.ID] {
			due = append(due, post)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *fakePostRepo) Claim(ctx context.Context, postID int64, staleBefore time.Time) (bool, error) {
	post, ok := r.posts[postID]
	if !ok {
		return false, nil
	}
	switch post.Status {
	case models.PostStatusDraft, models.PostStatusScheduled:
		post.Status = models.PostStatusPublishing
		return true, nil
	case models.PostStatusPublishing:
		if r.stale[postID] {
			r.stale[postID] = false
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePostRepo) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	r.posts[postID].Status = status
	return nil
}

func (r *fakePostRepo) Remove(ctx context.Context, id int64) error {
	delete(r.posts, id)
	return nil
}

type fakeTargetRepo struct {
	targets map[int64][]int64
}

func (r *fakeTargetRepo) Create(ctx context.Context, tx *sql.Tx, ta *models.TargetAccount) error {
	r.targets[ta.PostID] = append(r.targets[ta.PostID], ta.AccountID)
	return nil
}

func (r *fakeTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.TargetAccount, error) {
	var out []*models.TargetAccount
	for _, accountID := range r.targets[postID] {
		out = append(out, &models.TargetAccount{PostID: postID, AccountID: accountID})
	}
	return out, nil
}

func (r *fakeTargetRepo) RemoveByPostID(ctx context.Context, postID int64) error {
	delete(r.targets, postID)
	return nil
}

func (r *fakeTargetRepo) RemoveByAccountID(ctx context.Context, accountID int64) error {
	for postID, accounts := range r.targets {
		kept := accounts[:0]
		for _, id := range accounts {
			if id != accountID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(r.targets, postID)
		} else {
			r.targets[postID] = kept
		}
	}
	return nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.SocialAccount
	inactive []int64
	rotated  map[int64]*models.SocialAccount
}

func (r *fakeAccountRepo) Upsert(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	acc, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return acc, nil
}

func (r *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	acc, ok := r.accounts[accountID]
	return ok && acc.UserID == userID, nil
}

func (r *fakeAccountRepo) SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	if r.rotated == nil {
		r.rotated = map[int64]*models.SocialAccount{}
	}
	r.rotated[accountID] = sa
	acc := r.accounts[accountID]
	acc.AccessToken = sa.AccessToken
	if sa.RefreshToken != "" {
		acc.RefreshToken = sa.RefreshToken
	}
	acc.TokenExpiresAt = sa.TokenExpiresAt
	return nil
}

func (r *fakeAccountRepo) MarkInactive(ctx context.Context, id int64) error {
	r.inactive = append(r.inactive, id)
	r.accounts[id].IsActive = false
	return nil
}

func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error {
	delete(r.accounts, id)
	return nil
}

type fakeResultRepo struct {
	results map[[2]int64]*models.PublishResult
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: map[[2]int64]*models.PublishResult{}}
}

func (r *fakeResultRepo) EnsurePending(ctx context.Context, postID, accountID int64) error {
	key := [2]int64{postID, accountID}
	if _, ok := r.results[key]; !ok {
		r.results[key] = &models.PublishResult{PostID: postID, AccountID: accountID, Status: models.ResultStatusPending}
	}
	return nil
}

func (r *fakeResultRepo) GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PublishResult, error) {
	res, ok := r.results[[2]int64{postID, accountID}]
	if !ok {
		return nil, nil
	}
	return res, nil
}

func (r *fakeResultRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishResult, error) {
	var out []*models.PublishResult
	for key, res := range r.results {
		if key[0] == postID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *fakeResultRepo) MarkSuccess(ctx context.Context, postID, accountID int64, platformPostID string) error {
	res := r.results[[2]int64{postID, accountID}]
	res.Status = models.ResultStatusSuccess
	res.PlatformPostID = platformPostID
	res.AttemptCount++
	return nil
}

func (r *fakeResultRepo) MarkFailed(ctx context.Context, postID, accountID int64, message, kind string) error {
	res := r.results[[2]int64{postID, accountID}]
	res.Status = models.ResultStatusFailed
	res.ErrorMessage = message
	res.ErrorKind = kind
	res.AttemptCount++
	return nil
}

func (r *fakeResultRepo) RecordAttempt(ctx context.Context, postID, accountID int64, message string) error {
	res := r.results[[2]int64{postID, accountID}]
	res.ErrorMessage = message
	res.ErrorKind = models.ErrorKindTransient
	res.AttemptCount++
	return nil
}

func (r *fakeResultRepo) RemoveByAccountID(ctx context.Context, accountID int64) error {
	for key := range r.results {
		if key[1] == accountID {
			delete(r.results, key)
		}
	}
	return nil
}

func (r *fakeResultRepo) RemoveByPostID(ctx context.Context, postID int64) error {
	for key := range r.results {
		if key[0] == postID {
			delete(r.results, key)
		}
	}
	return nil
}

type fakePostMediaRepo struct{}

func (r *fakePostMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	return nil
}

func (r *fakePostMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	return nil, nil
}

func (r *fakePostMediaRepo) RemoveByPostID(ctx context.Context, postID int64) error { return nil }

type fakeAssetRepo struct{}

func (r *fakeAssetRepo) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *fakeAssetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	return nil, nil
}

func (r *fakeAssetRepo) CheckByUserID(ctx context.Context, assetID, userID int64) (bool, error) {
	return false, nil
}

func (r *fakeAssetRepo) Remove(ctx context.Context, id int64) error { return nil }

// fakeAdapter fails specific accounts by access token value.
type fakeAdapter struct {
	platform     string
	publishCalls int
	failWith     map[string]error
	refreshed    *platforms.Token
	refreshErr   error
	refreshCalls int
}

func (a *fakeAdapter) Platform() string   { return a.platform }
func (a *fakeAdapter) RequiresPKCE() bool { return false }

func (a *fakeAdapter) BuildAuthURL(state, codeChallenge string) string { return "" }

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code, codeVerifier string) (*platforms.Token, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) GetProfile(ctx context.Context, accessToken string) (*platforms.Profile, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAdapter) Publish(ctx context.Context, accessToken string, content platforms.Content, media []platforms.Media) (string, error) {
	a.publishCalls++
	if err, ok := a.failWith[accessToken]; ok {
		return "", err
	}
	return "platform-post-1", nil
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*platforms.Token, error) {
	a.refreshCalls++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return a.refreshed, nil
}

func (a *fakeAdapter) RevokeAccess(ctx context.Context, accountID, accessToken string) error {
	return nil
}

type fixture struct {
	sched   *Scheduler
	posts   *fakePostRepo
	targets *fakeTargetRepo
	acc     *fakeAccountRepo
	res     *fakeResultRepo
	adapter *fakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &fakeAdapter{platform: "tiktok", failWith: map[string]error{}}
	registry := platforms.NewRegistry(config.Config{})
	registry.Register(adapter)

	f := &fixture{
		posts:   newFakePostRepo(),
		targets: &fakeTargetRepo{targets: map[int64][]int64{}},
		acc:     &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{}},
		res:     newFakeResultRepo(),
		adapter: adapter,
	}
	f.sched = New(config.Config{TokenKey: testTokenKey}, registry,
		f.posts, f.targets, f.acc, f.res, &fakePostMediaRepo{}, &fakeAssetRepo{})
	return f
}

func (f *fixture) addAccount(t *testing.T, id int64, plainToken string) {
	t.Helper()
	encrypted, err := utils.Encrypt([]byte(plainToken), []byte(testTokenKey))
	require.NoError(t, err)
	f.acc.accounts[id] = &models.SocialAccount{
		ID: id, UserID: 1, Platform: "tiktok", AccountID: "ext", AccessToken: encrypted, IsActive: true,
	}
}

func (f *fixture) addScheduledPost(id int64, accountIDs ...int64) {
	past := time.Now().Add(-time.Minute)
	f.posts.posts[id] = &models.Post{ID: id, UserID: 1, Status: models.PostStatusScheduled, ScheduledTime: &past}
	f.targets.targets[id] = accountIDs
}

func TestRunPublishesDuePost(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.addAccount(t, 2, "token-2")
	f.addScheduledPost(10, 1, 2)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, models.PostStatusPublished, f.posts.posts[10].Status)
	assert.Equal(t, 2, f.adapter.publishCalls)

	for _, accountID := range []int64{1, 2} {
		res := f.res.results[[2]int64{10, accountID}]
		require.NotNil(t, res)
		assert.Equal(t, models.ResultStatusSuccess, res.Status)
		assert.Equal(t, "platform-post-1", res.PlatformPostID)
	}
}

func TestRunStopsWhenBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.addScheduledPost(10, 1)
	f.addScheduledPost(11, 1)
	f.sched.budget = -time.Second

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, f.adapter.publishCalls)
	assert.Equal(t, models.PostStatusScheduled, f.posts.posts[10].Status)
	assert.Equal(t, models.PostStatusScheduled, f.posts.posts[11].Status)
}

func TestRunMixedOutcome(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "good-token")
	f.addAccount(t, 2, "revoked-token")
	f.adapter.failWith["revoked-token"] = &platforms.Error{Platform: "tiktok", Code: "http_401", Revoked: true}
	f.addScheduledPost(10, 1, 2)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PartiallyFailed)
	assert.Equal(t, models.PostStatusPartiallyFailed, f.posts.posts[10].Status)

	assert.Equal(t, models.ResultStatusSuccess, f.res.results[[2]int64{10, 1}].Status)

	failed := f.res.results[[2]int64{10, 2}]
	assert.Equal(t, models.ResultStatusFailed, failed.Status)
	assert.Equal(t, models.ErrorKindPermanent, failed.ErrorKind)
	assert.Equal(t, []int64{2}, f.acc.inactive)
	assert.False(t, f.acc.accounts[2].IsActive)
}

func TestRunSkipsAccountsAlreadyPublished(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.addAccount(t, 2, "token-2")

	// stale publishing post from a crashed pass: account 1 already made it
	f.posts.posts[10] = &models.Post{ID: 10, UserID: 1, Status: models.PostStatusPublishing}
	f.posts.stale[10] = true
	f.targets.targets[10] = []int64{1, 2}
	f.res.results[[2]int64{10, 1}] = &models.PublishResult{
		PostID: 10, AccountID: 1, Status: models.ResultStatusSuccess, PlatformPostID: "already-there",
	}

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, f.adapter.publishCalls)
	assert.Equal(t, "already-there", f.res.results[[2]int64{10, 1}].PlatformPostID)
	assert.Equal(t, models.ResultStatusSuccess, f.res.results[[2]int64{10, 2}].Status)
}

func TestRunIgnoresActivelyPublishingPosts(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")

	// publishing but not stale: another invocation owns it
	f.posts.posts[10] = &models.Post{ID: 10, UserID: 1, Status: models.PostStatusPublishing}
	f.targets.targets[10] = []int64{1}

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, f.adapter.publishCalls)
}

func TestTransientFailureStaysPending(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "flaky-token")
	f.adapter.failWith["flaky-token"] = &platforms.Error{Platform: "tiktok", Code: "http_503", Temporary: true}
	f.addScheduledPost(10, 1)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, models.PostStatusPublishing, f.posts.posts[10].Status)

	res := f.res.results[[2]int64{10, 1}]
	assert.Equal(t, models.ResultStatusPending, res.Status)
	assert.Equal(t, 1, res.AttemptCount)
	assert.Equal(t, models.ErrorKindTransient, res.ErrorKind)
}

func TestTransientFailureHitsRetryCeiling(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "flaky-token")
	f.adapter.failWith["flaky-token"] = &platforms.Error{Platform: "tiktok", Code: "http_503", Temporary: true}
	f.addScheduledPost(10, 1)
	f.res.results[[2]int64{10, 1}] = &models.PublishResult{
		PostID: 10, AccountID: 1, Status: models.ResultStatusPending, AttemptCount: maxAttempts - 1,
	}

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	res := f.res.results[[2]int64{10, 1}]
	assert.Equal(t, models.ResultStatusFailed, res.Status)
	assert.Equal(t, models.ErrorKindPermanent, res.ErrorKind)
	assert.Contains(t, res.ErrorMessage, "retry limit reached")
}

func TestInactiveAccountFailsPermanently(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.acc.accounts[1].IsActive = false
	f.addScheduledPost(10, 1)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, f.adapter.publishCalls)
	res := f.res.results[[2]int64{10, 1}]
	assert.Equal(t, models.ResultStatusFailed, res.Status)
	assert.Equal(t, models.ErrorKindPermanent, res.ErrorKind)
}

func TestPostWithoutTargetsFails(t *testing.T) {
	f := newFixture(t)
	f.addScheduledPost(10)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.PostStatusFailed, f.posts.posts[10].Status)
}

func TestExpiredTokenTriggersRefresh(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "stale-token")

	expired := time.Now().Add(-time.Hour)
	f.acc.accounts[1].TokenExpiresAt = &expired
	encryptedRefresh, err := utils.Encrypt([]byte("refresh-token"), []byte(testTokenKey))
	require.NoError(t, err)
	f.acc.accounts[1].RefreshToken = encryptedRefresh

	future := time.Now().Add(time.Hour)
	f.adapter.refreshed = &platforms.Token{AccessToken: "fresh-token", RefreshToken: "fresh-refresh", ExpiresAt: &future}
	f.addScheduledPost(10, 1)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, f.adapter.refreshCalls)

	require.NotNil(t, f.acc.rotated[1])
	access, err := utils.Decrypt(f.acc.accounts[1].AccessToken, []byte(testTokenKey))
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", access)
}

func TestExpiredTokenWithoutRefreshDeactivates(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "stale-token")
	expired := time.Now().Add(-time.Hour)
	f.acc.accounts[1].TokenExpiresAt = &expired
	f.addScheduledPost(10, 1)

	summary, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, f.adapter.publishCalls)
	assert.Equal(t, []int64{1}, f.acc.inactive)
	assert.Equal(t, models.ErrorKindPermanent, f.res.results[[2]int64{10, 1}].ErrorKind)
}

func TestPublishPost(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.addScheduledPost(10, 1)

	summary, err := f.sched.PublishPost(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, models.PostStatusPublished, f.posts.posts[10].Status)
}

func TestPublishPostNotOwner(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.addScheduledPost(10, 1)

	_, err := f.sched.PublishPost(context.Background(), 99, 10)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Empty(t, f.res.results)
	assert.Equal(t, 0, f.adapter.publishCalls)
}

func TestPublishPostAlreadyPublished(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.posts.posts[10] = &models.Post{ID: 10, UserID: 1, Status: models.PostStatusPublished}
	f.targets.targets[10] = []int64{1}

	_, err := f.sched.PublishPost(context.Background(), 1, 10)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, 0, f.adapter.publishCalls)
}

func TestPublishPostDraft(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, 1, "token-1")
	f.posts.posts[10] = &models.Post{ID: 10, UserID: 1, Status: models.PostStatusDraft}
	f.targets.targets[10] = []int64{1}

	summary, err := f.sched.PublishPost(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Published)
}

func TestAggregateStatus(t *testing.T) {
	success := &models.PublishResult{Status: models.ResultStatusSuccess}
	failed := &models.PublishResult{Status: models.ResultStatusFailed}
	pending := &models.PublishResult{Status: models.ResultStatusPending}

	tests := []struct {
		name        string
		results     []*models.PublishResult
		targetCount int
		want        string
	}{
		{"all success", []*models.PublishResult{success, success}, 2, models.PostStatusPublished},
		{"all failed", []*models.PublishResult{failed, failed}, 2, models.PostStatusFailed},
		{"mixed", []*models.PublishResult{success, failed}, 2, models.PostStatusPartiallyFailed},
		{"pending row", []*models.PublishResult{success, pending}, 2, models.PostStatusPublishing},
		{"missing row counts as pending", []*models.PublishResult{success}, 2, models.PostStatusPublishing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregateStatus(tt.results, tt.targetCount))
		})
	}
}
