// Package storage uploads report photos to an S3 compatible bucket (AWS S3,
// Cloudflare R2, MinIO) and returns their public URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted photo, in bytes.
const MaxImageSize = 10 * 1024 * 1024

var (
	// ErrUnsupportedType is returned for content types other than images.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned when the photo exceeds MaxImageSize.
	ErrTooLarge = errors.New("image exceeds size limit")
)

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/gif":  ".gif",
}

// ImageFile is a photo received from a client.
type ImageFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	OwnerID     string
}

// Validate checks type and size before any network call.
func (f *ImageFile) Validate() error {
	if _, ok := allowedContentTypes[strings.ToLower(f.ContentType)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, f.ContentType)
	}
	if f.Size > MaxImageSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, f.Size)
	}
	return nil
}

// ImageUploader stores a photo and returns a durable URL for it.
type ImageUploader interface {
	Upload(ctx context.Context, file *ImageFile) (string, error)
}

// Config holds bucket credentials and addressing.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

// objectPutter is the part of *s3.Client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader is an ImageUploader backed by an S3 bucket.
type S3Uploader struct {
	client    objectPutter
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewS3Uploader creates an uploader with static credentials.
func NewS3Uploader(cfg Config) *S3Uploader {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return newS3Uploader(s3.New(opts), cfg)
}

func newS3Uploader(client objectPutter, cfg Config) *S3Uploader {
	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       time.Now,
	}
}

// Upload validates and puts the photo, returning its public URL.
func (u *S3Uploader) Upload(ctx context.Context, file *ImageFile) (string, error) {
	if err := file.Validate(); err != nil {
		return "", err
	}

	key := u.objectKey(file)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file.Body,
		ContentType: aws.String(strings.ToLower(file.ContentType)),
	}
	if file.Size > 0 {
		input.ContentLength = aws.Int64(file.Size)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", u.publicURL, key), nil
}

func (u *S3Uploader) objectKey(file *ImageFile) string {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = allowedContentTypes[strings.ToLower(file.ContentType)]
	}
	owner := file.OwnerID
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("reports/%s/%d_%s%s", owner, u.now().Unix(), uuid.New().String(), ext)
}
