package blob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// MinIOStore drives a MinIO (or any S3-compatible) server through minio-go.
type MinIOStore struct {
	client      *minio.Client
	bucket      string
	presignTTL  time.Duration
	callTimeout time.Duration
	nowFunc     func() time.Time
}

// NewMinIOStore constructs a MinIO-backed store.
func NewMinIOStore(client *minio.Client, bucket string, presignTTL, callTimeout time.Duration) *MinIOStore {
	return &MinIOStore{
		client:      client,
		bucket:      bucket,
		presignTTL:  presignTTL,
		callTimeout: callTimeout,
		nowFunc:     time.Now,
	}
}

func (s *MinIOStore) PresignUpload(ctx context.Context, key, mimeType string) (UploadTarget, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.presignTTL)
	if err != nil {
		return UploadTarget{}, classify(fmt.Errorf("presign put object: %w", err))
	}
	target := UploadTarget{
		URL:       u.String(),
		Method:    http.MethodPut,
		ExpiresAt: s.nowFunc().Add(s.presignTTL).UTC(),
	}
	if mimeType != "" {
		target.Headers = map[string]string{"Content-Type": mimeType}
	}
	return target, nil
}

func (s *MinIOStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", classify(fmt.Errorf("presign get object: %w", err))
	}
	return u.String(), nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, classify(fmt.Errorf("stat object: %w", err))
	}
	return ObjectInfo{Key: key, SizeBytes: info.Size, ContentType: info.ContentType}, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify(fmt.Errorf("remove object: %w", err))
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify(fmt.Errorf("check bucket: %w", err))
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}
