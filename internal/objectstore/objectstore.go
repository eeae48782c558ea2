// Package objectstore uploads complaint attachments to S3.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"studentsupport/backend/internal/config"
)

// ErrDisabled is returned when no bucket is configured.
var ErrDisabled = errors.New("attachment storage is not configured")

// Uploader stores a byte stream and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, body io.Reader) (string, error)
}

// Disabled rejects every upload.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", ErrDisabled
}

type S3Client struct {
	uploader *manager.Uploader
	region   string
	bucket   string
}

// New returns an S3 uploader, or Disabled when cfg has no bucket.
func New(ctx context.Context, cfg config.S3Config) (Uploader, error) {
	if cfg.Bucket == "" {
		return Disabled{}, nil
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3.region not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	slog.Info("attachment storage ready", "bucket", cfg.Bucket, "region", cfg.Region)
	return &S3Client{
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
		region:   cfg.Region,
		bucket:   cfg.Bucket,
	}, nil
}

// Upload stores body under attachments/<uuid>-<name> and returns its URL.
func (c *S3Client) Upload(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	key := ObjectKey(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, key), nil
}

// ObjectKey builds a collision-free key that keeps a sanitized file name.
func ObjectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		base = "attachment"
	}
	return "attachments/" + uuid.New().String() + "-" + base
}
