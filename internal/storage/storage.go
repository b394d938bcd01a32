// Package storage decides where compressed material covers end up.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/pkg/config"
)

// CoverStore turns a compressed cover into the value sent as cover_image.
type CoverStore interface {
	Store(ctx context.Context, cover *imaging.Cover) (string, error)
}

// Inline keeps covers as data URLs in the material payload.
type Inline struct{}

func (Inline) Store(_ context.Context, cover *imaging.Cover) (string, error) {
	return cover.DataURL(), nil
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads covers to a bucket and returns their public URL.
type S3 struct {
	client     objectPutter
	bucket     string
	publicBase string
	log        *slog.Logger
	now        func() time.Time
}

// New returns the S3 store when storage is enabled and Inline otherwise.
func New(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (CoverStore, error) {
	if !cfg.Enabled {
		return Inline{}, nil
	}
	return NewS3(ctx, cfg, log)
}

func NewS3(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*S3, error) {
	if log == nil {
		log = slog.Default()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// MinIO and most S3-compatible endpoints need path-style addressing.
		o.UsePathStyle = true
	})

	return &S3{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:        log,
		now:        time.Now,
	}, nil
}

// CoverKey builds covers/YYYY/MM/DD/<uuid>.jpg.
func CoverKey(t time.Time) string {
	return fmt.Sprintf("covers/%04d/%02d/%02d/%s.jpg", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *S3) Store(ctx context.Context, cover *imaging.Cover) (string, error) {
	key := CoverKey(s.now().UTC())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(cover.Data),
		ContentType:   aws.String(cover.ContentType()),
		ContentLength: aws.Int64(int64(len(cover.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("put cover %s: %w", key, err)
	}

	s.log.Info("cover uploaded", slog.String("key", key), slog.Int("bytes", len(cover.Data)))
	return s.publicBase + "/" + key, nil
}

// Fallback tries primary and falls back to inlining when the upload fails.
type Fallback struct {
	Primary CoverStore
	Log     *slog.Logger
}

func (f Fallback) Store(ctx context.Context, cover *imaging.Cover) (string, error) {
	url, err := f.Primary.Store(ctx, cover)
	if err == nil {
		return url, nil
	}

	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("cover upload failed, inlining", slog.Any("error", err))
	return Inline{}.Store(ctx, cover)
}
