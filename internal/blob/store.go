// Package blob stores media files and derived artifacts (waveforms,
// subtitles) in an S3-compatible object store via the MinIO client.
//
// Keys follow a fixed layout per media file:
//
//	media/<file-id>/original       — the uploaded or downloaded bytes
//	media/<file-id>/subtitles.srt  — rendered subtitles
//	media/<file-id>/analytics.json — speaker analytics
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tobfr/verbatim/internal/config"
)

// Store wraps a MinIO client bound to one bucket. All methods are safe for
// concurrent use.
type Store struct {
	client       *minio.Client
	bucket       string
	externalHost string
}

// New connects to the configured S3 endpoint and ensures the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect %q: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Store{
		client:       client,
		bucket:       cfg.Bucket,
		externalHost: cfg.ExternalHost,
	}, nil
}

// OriginalKey returns the object key of a file's original media bytes.
func OriginalKey(fileID uuid.UUID) string {
	return "media/" + fileID.String() + "/original"
}

// SubtitleKey returns the object key of a file's rendered subtitles in the
// given format ("srt" or "vtt").
func SubtitleKey(fileID uuid.UUID, format string) string {
	return "media/" + fileID.String() + "/subtitles." + format
}

// AnalyticsKey returns the object key of a file's computed analytics blob.
func AnalyticsKey(fileID uuid.UUID) string {
	return "media/" + fileID.String() + "/analytics.json"
}

// Put streams an object into the bucket. size may be -1 when unknown; the
// client then falls back to multipart upload.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("blob: put %q: %w", key, err)
	}
	return nil
}

// Get opens an object for reading. The caller must close the returned reader.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: get %q: %w", key, err)
	}
	return obj, nil
}

// GetRange opens a byte range of an object, for HTTP range serving.
func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("blob: range %q: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("blob: get range %q: %w", key, err)
	}
	return obj, nil
}

// Stat returns object size and content type.
func (s *Store) Stat(ctx context.Context, key string) (size int64, contentType string, err error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("blob: stat %q: %w", key, err)
	}
	return info.Size, info.ContentType, nil
}

// Delete removes a single object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: delete %q: %w", key, err)
	}
	return nil
}

// DeleteFile removes every artifact stored for a media file.
func (s *Store) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	prefix := "media/" + fileID.String() + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("blob: list %q: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("blob: delete %q: %w", obj.Key, err)
		}
	}
	return nil
}

// PresignGet returns a time-limited download URL for an object. When
// storage.external_host is configured the internal endpoint host is replaced
// so browsers outside the deployment network can reach it.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("blob: presign %q: %w", key, err)
	}
	if s.externalHost != "" {
		u.Host = s.externalHost
	}
	return u, nil
}

// Ping checks object-store connectivity. Suitable as a readiness checker.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("blob: ping: %w", err)
	}
	return nil
}
