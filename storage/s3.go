package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
}

// ImageStore stores listing and avatar images in S3-compatible storage.
type ImageStore struct {
	client *s3.Client
	cfg    S3Config
}

// NewImageStore creates a new image store
func NewImageStore(ctx context.Context, cfg S3Config) (*ImageStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &ImageStore{
		client: client,
		cfg:    cfg,
	}, nil
}

// UploadImage stores one image under a fresh key and returns its public URL.
func (u *ImageStore) UploadImage(ctx context.Context, data io.Reader) (string, error) {
	key := fmt.Sprintf("images/%s.jpg", uuid.NewString())
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return u.publicURL(key), nil
}

// UploadImages uploads a batch in order. Failed uploads are logged and
// skipped; the returned URLs keep the relative order of the successes.
func (u *ImageStore) UploadImages(ctx context.Context, images []io.Reader) []string {
	urls := make([]string, 0, len(images))
	for i, img := range images {
		url, err := u.UploadImage(ctx, img)
		if err != nil {
			log.Printf("Failed to upload image %d of %d: %v", i+1, len(images), err)
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// DeleteImage removes the object behind a previously returned public URL.
func (u *ImageStore) DeleteImage(ctx context.Context, publicURL string) error {
	key, ok := u.keyFromURL(publicURL)
	if !ok {
		return fmt.Errorf("not a managed image URL: %s", publicURL)
	}
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (u *ImageStore) publicURL(key string) string {
	if u.cfg.Endpoint != "" && strings.Contains(u.cfg.Endpoint, "digitaloceanspaces.com") {
		// DO Spaces: https://{bucket}.{region}.digitaloceanspaces.com/{key}
		host := strings.TrimPrefix(u.cfg.Endpoint, "https://")
		return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, host, key)
	}
	// AWS S3: https://{bucket}.s3.{region}.amazonaws.com/{key}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

func (u *ImageStore) keyFromURL(publicURL string) (string, bool) {
	idx := strings.Index(publicURL, "/images/")
	if idx < 0 {
		return "", false
	}
	return publicURL[idx+1:], true
}
