package stash

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	pkglogger "github.com/angwiki/modqueue-backend/pkg/logger"
)

// Store holds staged upload payloads while their moderation entry is pending.
// Queued uploads keep only a stash key in the entry row; the binary lives here
// until the entry is approved (payload handed to the content engine) or the
// entry ages out.
type Store interface {
	Put(ctx context.Context, body io.Reader, contentType string, size int64) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// S3Config holds S3/R2/MinIO compatible storage configuration
type S3Config struct {
	Endpoint        string // e.g. https://xxx.r2.cloudflarestorage.com
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	BasePath        string // prefix for all objects (e.g. "modstash/")
	ForcePathStyle  bool   // true for MinIO/R2
}

// S3Store is the S3-backed stash implementation
type S3Store struct {
	client   *s3.Client
	bucket   string
	basePath string
}

// NewS3Store creates an S3-compatible stash store
func NewS3Store(cfg S3Config) (*S3Store, error) {
	opts := func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}

	client := s3.New(s3.Options{}, opts)

	pkglogger.GetLogger().Info().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Msg("stash store initialized")

	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		basePath: strings.TrimSuffix(cfg.BasePath, "/"),
	}, nil
}

// Put stages a payload and returns the stash key recorded in the entry row
func (s *S3Store) Put(ctx context.Context, body io.Reader, contentType string, size int64) (string, error) {
	key := fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String())

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("stash put failed: %w", err)
	}
	return key, nil
}

// Get retrieves a staged payload by stash key
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("stash get failed: %w", err)
	}
	return out.Body, nil
}

// Delete removes a staged payload after approval or cleanup
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}); err != nil {
		return fmt.Errorf("stash delete failed: %w", err)
	}
	return nil
}

func (s *S3Store) objectKey(key string) string {
	if s.basePath == "" {
		return key
	}
	return s.basePath + "/" + key
}
