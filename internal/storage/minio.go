package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/kozaktomas/photo-consent/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps assets in one bucket per kind. A single PutObject replaces
// an object atomically, so no temp object is needed.
type MinioStore struct {
	client *minio.Client
	prefix string
}

// NewMinioStore connects to an S3-compatible endpoint.
func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &MinioStore{client: client, prefix: cfg.BucketPrefix}, nil
}

// Bucket returns the bucket holding assets of the given kind.
func (s *MinioStore) Bucket(kind Kind) string {
	if s.prefix == "" {
		return string(kind)
	}
	return s.prefix + "-" + string(kind)
}

// EnsureBuckets creates missing buckets.
func (s *MinioStore) EnsureBuckets(ctx context.Context) error {
	for _, k := range Kinds {
		bucket := s.Bucket(k)
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Load reads an object.
func (s *MinioStore) Load(ctx context.Context, kind Kind, key string) ([]byte, error) {
	if err := validate(kind, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.Bucket(kind), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s/%s: %w", kind, key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s/%s: %w", kind, key, err)
	}
	return data, nil
}

// Store uploads an object.
func (s *MinioStore) Store(ctx context.Context, kind Kind, key string, data []byte, contentType string) error {
	if err := validate(kind, key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.Bucket(kind), key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", kind, key, err)
	}
	return nil
}

// Delete removes an object. S3 treats deleting a missing key as success.
func (s *MinioStore) Delete(ctx context.Context, kind Kind, key string) error {
	if err := validate(kind, key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.Bucket(kind), key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("delete %s/%s: %w", kind, key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
