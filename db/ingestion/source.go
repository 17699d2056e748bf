package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	gserrors "gridsim/pkg/errors"
)

// ObjectConfig holds MinIO connection configuration
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	// ArchiveBucket receives a copy of every accepted raw file; empty disables archiving
	ArchiveBucket string
}

// DefaultObjectConfig returns default development configuration
func DefaultObjectConfig() *ObjectConfig {
	return &ObjectConfig{
		Endpoint:      "localhost:9000",
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		ArchiveBucket: "meter-files",
	}
}

// NewObjectClient creates a MinIO client
func NewObjectClient(cfg *ObjectConfig) (*minio.Client, error) {
	if cfg == nil {
		cfg = DefaultObjectConfig()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object client: %w", err)
	}
	return client, nil
}

const s3Scheme = "s3://"

// OpenSource opens a meter file from a local path or an s3://bucket/key
// URI. Object URIs need a client.
func OpenSource(ctx context.Context, uri string, client *minio.Client) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, s3Scheme) {
		f, err := os.Open(uri)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, gserrors.NewNotFoundError("meter file", uri)
			}
			return nil, fmt.Errorf("failed to open %s: %w", uri, err)
		}
		return f, nil
	}

	bucket, key, err := splitObjectURI(uri)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, gserrors.NewValidationError(uri, "object storage is not configured")
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", uri, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the read
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, gserrors.NewNotFoundError("meter file", uri)
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", uri, err)
	}
	return obj, nil
}

func splitObjectURI(uri string) (string, string, error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", gserrors.NewValidationError(uri, "object uri must look like s3://bucket/key")
	}
	return bucket, key, nil
}

// ObjectStore opens meter files and archives accepted ones
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore wraps a client. A nil client serves local paths only.
func NewObjectStore(client *minio.Client, archiveBucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: archiveBucket}
}

// Open implements Opener
func (s *ObjectStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return OpenSource(ctx, uri, s.client)
}

// Archive implements Archiver. It is a no-op without a client or bucket.
func (s *ObjectStore) Archive(ctx context.Context, key string, data []byte) error {
	if s.client == nil || s.bucket == "" {
		return nil
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}
