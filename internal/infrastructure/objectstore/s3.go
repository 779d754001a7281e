package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"go-upload-notifier/internal/infrastructure/config"
)

// S3 talks to AWS S3 or any S3-compatible endpoint (R2, MinIO).
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	maxBytes int64
}

var _ Store = (*S3)(nil)

func NewS3(ctx context.Context, cfg config.ObjectStoreConfig) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		maxBytes: cfg.MaxObjectBytes,
	}, nil
}

func (s *S3) Get(ctx context.Context, container, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("%s/%s: %w", container, key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to download %s/%s: %w", container, key, err)
	}
	defer out.Body.Close()

	if s.maxBytes > 0 && aws.ToInt64(out.ContentLength) > s.maxBytes {
		return nil, "", fmt.Errorf("%s/%s is %d bytes: %w", container, key, aws.ToInt64(out.ContentLength), ErrTooLarge)
	}

	// ContentLength may be absent; the body is bounded either way.
	data, err := readLimited(out.Body, s.maxBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, "", fmt.Errorf("%s/%s: %w", container, key, err)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body for %s/%s: %w", container, key, err)
	}

	return data, aws.ToString(out.ContentType), nil
}

func (s *S3) Put(ctx context.Context, container, key, contentType string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", container, key, err)
	}
	return nil
}
