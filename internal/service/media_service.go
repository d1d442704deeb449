package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cfg "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/repository"
)

// MediaService wraps the Cloudflare R2 bucket holding post media. Platform
// adapters publish by URL, so uploaded objects are publicly readable through
// the bucket's public URL.
type MediaService struct {
	config     cfg.Config
	ma         repository.MediaAssetRepository
	deleteBlob func(ctx context.Context, key string) error
}

func NewMediaService(cfg cfg.Config, ma repository.MediaAssetRepository) *MediaService {
	s := &MediaService{config: cfg, ma: ma}
	s.deleteBlob = s.DeleteObject
	return s
}

func (r *MediaService) r2Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.config.R2.AccessKey, r.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.config.R2.AccountID))
	}), nil
}

func (r *MediaService) Upload(ctx context.Context, key string, file []byte, filetype string) (string, error) {
	client, err := r.r2Client(ctx)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(filetype),
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return fmt.Sprintf("%s/%s", r.config.R2.PublicURL, key), nil
}

func (r *MediaService) DeleteObject(ctx context.Context, key string) error {
	client, err := r.r2Client(ctx)
	if err != nil {
		return err
	}

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(r.config.R2.BucketName),
		Key:    aws.String(key),
	}

	if _, err := client.DeleteObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

// RemoveAsset deletes the asset row and its underlying blob. Ownership is
// checked first; a non-owner gets not-found. The row goes first so an asset
// still attached to a post is refused with its blob intact; once the row is
// gone the blob delete is best effort.
func (r *MediaService) RemoveAsset(ctx context.Context, userID, assetID int64) error {
	isOwner, err := r.ma.CheckByUserID(ctx, assetID, userID)
	if err != nil {
		return err
	}
	if !isOwner {
		return errs.ErrNotFound
	}

	asset, err := r.ma.GetByID(ctx, assetID)
	if err != nil || asset == nil {
		return errs.ErrNotFound
	}

	if err := r.ma.Remove(ctx, assetID); err != nil {
		return fmt.Errorf("error removing asset: %w", err)
	}

	if err := r.deleteBlob(ctx, asset.FileName); err != nil {
		slog.Info(err.Error())
	}
	return nil
}
