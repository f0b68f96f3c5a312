package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shehryarbajwa/renderpool/internal/logger"
)

// MinioConfig holds object storage settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
}

// MinioStore uploads artifacts to a MinIO or S3 compatible bucket
type MinioStore struct {
	client *miniogo.Client
	bucket string
	log    logger.Logger
}

// NewMinioStore creates the client; call EnsureBucket before first use
func NewMinioStore(cfg MinioConfig, log logger.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	log.Info("MinIO artifact store initialized",
		logger.String("endpoint", cfg.Endpoint),
		logger.String("bucket", cfg.Bucket))

	return &MinioStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

// EnsureBucket creates the bucket when missing
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("Created artifact bucket", logger.String("bucket", s.bucket))
	return nil
}

// Store uploads the artifact and returns an s3:// reference
func (s *MinioStore) Store(ctx context.Context, artifact Artifact) (string, error) {
	if err := validate(artifact); err != nil {
		return "", err
	}

	key := ObjectKey(artifact)
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(artifact.Data),
		int64(len(artifact.Data)),
		miniogo.PutObjectOptions{
			ContentType: artifact.ContentType,
			UserMetadata: map[string]string{
				"source-url": artifact.SourceURL,
				"operation":  string(artifact.Operation),
				"project-id": artifact.ProjectID,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	s.log.Debug("Uploaded artifact",
		logger.String("object_key", key),
		logger.Int("size", len(artifact.Data)))

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
