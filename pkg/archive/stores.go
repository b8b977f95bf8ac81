package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// LocalStore writes objects as files under a root directory
type LocalStore struct {
	root string
}

// NewLocalStore creates root if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive path is required for the local backend")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create archive directory %s", root)
	}
	return &LocalStore{root: root}, nil
}

// Put writes body to root/key, replacing any existing file
func (s *LocalStore) Put(_ context.Context, key string, body []byte) error {
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create archive directory")
	}
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write archive file")
	}
	return nil
}

// Close is a no-op
func (s *LocalStore) Close() error { return nil }

// S3Store uploads objects with the S3 upload manager
type S3Store struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Store loads the default AWS configuration for region
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive bucket is required for the s3 backend")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
		u.Concurrency = 2
	})
	return &S3Store{bucket: bucket, uploader: uploader}, nil
}

// Put uploads body to key
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to s3").
			WithDetail("bucket", s.bucket)
	}
	return nil
}

// Close is a no-op
func (s *S3Store) Close() error { return nil }

// GCSStore writes objects to a Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSStore creates a storage client, using credentialsFile when set
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "archive bucket is required for the gcs backend")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket)}, nil
}

// Put writes body to key
func (s *GCSStore) Put(ctx context.Context, key string, body []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write GCS object")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close GCS writer")
	}
	return nil
}

// Close closes the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
