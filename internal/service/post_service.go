package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/models"
	"github.com/crosspostr/crosspostr/internal/repository"
	"github.com/crosspostr/crosspostr/internal/transfer"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db    *sql.DB
	pr    repository.PostRepository
	ta    repository.TargetAccountRepository
	ac    repository.SocialAccountRepository
	ma    repository.MediaAssetRepository
	pm    repository.PostMediaRepository
	res   repository.PublishResultRepository
	media *MediaService
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	ta repository.TargetAccountRepository,
	ac repository.SocialAccountRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	res repository.PublishResultRepository,
	media *MediaService) PostService {
	return &postService{
		db:    db,
		pr:    pr,
		ta:    ta,
		ac:    ac,
		ma:    ma,
		pm:    pm,
		res:   res,
		media: media,
	}
}

// CreatePost persists the post, its targets and its media in one
// transaction. The returned delay is how long until the post is due; zero
// means due on the next pass.
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	if pc == nil {
		return 0, 0, fmt.Errorf("%w: post creation data is nil", errs.ErrValidation)
	}
	if pc.Caption == "" {
		return 0, 0, fmt.Errorf("%w: caption cannot be empty", errs.ErrValidation)
	}

	var scheduledTime *time.Time
	if pc.ScheduledTime != "" {
		t, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
		if err != nil {
			slog.Info(err.Error())
			return 0, 0, fmt.Errorf("%w: invalid scheduled time format", errs.ErrValidation)
		}
		scheduledTime = &t
	}

	var targetAccounts []int64
	if err := json.Unmarshal([]byte(pc.TargetAccounts), &targetAccounts); err != nil {
		slog.Info(err.Error())
		return 0, 0, fmt.Errorf("%w: invalid target accounts format", errs.ErrValidation)
	}
	if len(targetAccounts) == 0 {
		return 0, 0, fmt.Errorf("%w: no social accounts selected", errs.ErrValidation)
	}

	if len(files) == 0 {
		return 0, 0, fmt.Errorf("%w: no files provided for the post", errs.ErrValidation)
	}

	status := models.PostStatusScheduled
	if pc.Draft {
		status = models.PostStatusDraft
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:        userID,
		Caption:       pc.Caption,
		Title:         pc.Title,
		ScheduledTime: scheduledTime,
		Status:        status,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.saveTargetAccounts(ctx, tx, userID, postID, targetAccounts); err != nil {
		return 0, 0, fmt.Errorf("error processing target accounts: %w", err)
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	var delay time.Duration
	if scheduledTime != nil {
		delay = time.Until(*scheduledTime)
		if delay < 0 {
			delay = 0
		}
	}

	return postID, delay, nil
}

func (s *postService) saveTargetAccounts(ctx context.Context, tx *sql.Tx, userID, postID int64, accounts []int64) error {
	for _, accountID := range accounts {
		exists, err := s.ac.CheckByUserID(ctx, accountID, userID)
		if err != nil {
			return fmt.Errorf("error checking social account %d: %w", accountID, err)
		}
		if !exists {
			return fmt.Errorf("%w: social account %d does not exist", errs.ErrValidation, accountID)
		}

		target := models.TargetAccount{
			PostID:    postID,
			AccountID: accountID,
		}
		if err := s.ta.Create(ctx, tx, &target); err != nil {
			return fmt.Errorf("error saving target account %d: %w", accountID, err)
		}
	}
	return nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("%w: unsupported file type", errs.ErrValidation)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("%w: file type %s is not allowed", errs.ErrValidation, fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	fileURL, err := s.media.Upload(ctx, id, file, fileType)
	if err != nil {
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  fileURL,
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostDetail, error) {
	if userID == 0 || postID == 0 {
		return nil, errs.ErrValidation
	}

	isOwner, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, errs.ErrNotFound
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil || post == nil {
		return nil, errors.New("error getting post info")
	}

	results, err := s.res.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	return &transfer.PostDetail{Post: post, Results: results}, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts: %w", err)
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if userID == 0 || postID == 0 {
		return errs.ErrValidation
	}

	isOwner, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isOwner {
		return errs.ErrNotFound
	}

	if err := s.res.RemoveByPostID(ctx, postID); err != nil {
		return fmt.Errorf("error removing publish results: %w", err)
	}
	if err := s.ta.RemoveByPostID(ctx, postID); err != nil {
		return fmt.Errorf("error removing target accounts: %w", err)
	}
	if err := s.pm.RemoveByPostID(ctx, postID); err != nil {
		return fmt.Errorf("error removing post media: %w", err)
	}

	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}

	return nil
}
