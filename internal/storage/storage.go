// Package storage holds operator-managed assets, such as email template
// overrides, in a MinIO or Google Cloud Storage bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/accountd/apiserver/config"
)

// ErrNotFound reports that the object definitely does not exist. Backends
// translate their own not-found errors into it; any other Get error is
// transient as far as callers know.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStorage defines common object operations across backends. Delete of
// a missing object succeeds.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open connects to the backend selected by cfg.Storage.Backend. It returns a
// nil Storage and no error when object storage is not configured.
func Open(ctx context.Context, cfg config.Config) (*Storage, error) {
	switch cfg.Storage.Backend {
	case "":
		return nil, nil
	case config.StorageBackendMinio:
		backend, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		return NewStorage(backend), nil
	case config.StorageBackendGCS:
		backend, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		return NewStorage(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Get opens a reader for an object in the configured bucket.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// Close releases the backend client.
func (s *Storage) Close() error {
	return s.backend.Close()
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}
