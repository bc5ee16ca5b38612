package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/accountd/apiserver/config"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	objects map[string][]byte
	ensured bool
	closed  bool
}

func (m *memoryBackend) EnsureBucket(ctx context.Context) error {
	m.ensured = true
	return nil
}

func (m *memoryBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) Bucket() string { return "mem" }

func (m *memoryBackend) Close() error {
	m.closed = true
	return nil
}

func TestStorageDelegates(t *testing.T) {
	backend := &memoryBackend{objects: map[string][]byte{}}
	s := NewStorage(backend)
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.True(t, backend.ensured)

	body := []byte("<p>{{.Code}}</p>")
	require.NoError(t, s.Put(ctx, "templates/verification.html", bytes.NewReader(body), int64(len(body)), "text/html"))

	rc, err := s.Get(ctx, "templates/verification.html")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	require.NoError(t, s.Delete(ctx, "templates/verification.html"))
	_, err = s.Get(ctx, "templates/verification.html")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "mem", s.Bucket())

	require.NoError(t, s.Close())
	assert.True(t, backend.closed)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	s, err := Open(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(context.Background(), config.Config{Storage: config.StorageConfig{Backend: "ftp"}})
	assert.Error(t, err)
}

func TestNewMinioClientValidatesConfig(t *testing.T) {
	_, err := NewMinioClient(config.MinioConfig{})
	assert.Error(t, err)

	_, err = NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestMinioErrorMapsMissingKey(t *testing.T) {
	assert.NoError(t, minioError("k", nil))

	err := minioError("templates/welcome.html", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	assert.ErrorIs(t, err, ErrNotFound)

	err = minioError("templates/welcome.html", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = minioError("templates/welcome.html", errors.New("connection refused"))
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGCSErrorMapsMissingObject(t *testing.T) {
	assert.NoError(t, gcsError("k", nil))
	assert.ErrorIs(t, gcsError("templates/welcome.html", gcs.ErrObjectNotExist), ErrNotFound)

	err := gcsError("templates/welcome.html", errors.New("deadline exceeded"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey("templates/welcome.html"))
	assert.Error(t, validateKey(""))
	assert.Error(t, validateKey("/templates/welcome.html"))
}
