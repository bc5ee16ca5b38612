package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/accountd/apiserver/config"
	"google.golang.org/api/option"
)

// GCSClient stores objects in a Google Cloud Storage bucket.
type GCSClient struct {
	client    *gcs.Client
	bucket    string
	projectID string
}

func NewGCSClient(ctx context.Context, cfg config.GCSConfig) (*GCSClient, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return &GCSClient{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// EnsureBucket creates the bucket when it is missing. Creation needs
// GCS_PROJECT_ID.
func (g *GCSClient) EnsureBucket(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("gcs bucket %s: %w", g.bucket, err)
	}
	if strings.TrimSpace(g.projectID) == "" {
		return errors.New("gcs project id is required to create bucket")
	}
	if err := g.client.Bucket(g.bucket).Create(ctx, g.projectID, nil); err != nil {
		return fmt.Errorf("gcs create bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *GCSClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if strings.TrimSpace(contentType) != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

func (g *GCSClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, gcsError(key, err)
	}
	return reader, nil
}

func (g *GCSClient) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err := gcsError(key, err); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (g *GCSClient) Bucket() string {
	return g.bucket
}

func (g *GCSClient) Close() error {
	return g.client.Close()
}

// gcsError maps ErrObjectNotExist to ErrNotFound.
func gcsError(key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("gcs %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("gcs %s: %w", key, err)
}
