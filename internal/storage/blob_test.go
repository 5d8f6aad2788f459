package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lesson-content-engine/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalBlobStore(dir, "http://cdn.local/files/")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "images/doc1/p0_0.png", strings.NewReader("png-bytes"), 9))

	rc, err := store.Open(ctx, "images/doc1/p0_0.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	assert.Equal(t, "http://cdn.local/files/images/doc1/p0_0.png", store.PublicURL("/images/doc1/p0_0.png"))

	require.NoError(t, store.Delete(ctx, "images/doc1/p0_0.png"))
	require.NoError(t, store.Delete(ctx, "images/doc1/p0_0.png"), "delete is idempotent")

	_, err = store.Open(ctx, "images/doc1/p0_0.png")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestLocalBlobStoreStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalBlobStore(dir, "")
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "../../escape.txt", strings.NewReader("x"), 1))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)

	assert.Error(t, store.Save(context.Background(), "/", strings.NewReader("x"), 1))
}

func TestBuildS3BaseURL(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000/lessons", buildS3BaseURL("minio.local:9000", "us-east-1", "lessons"))
	assert.Equal(t, "http://minio.local/lessons", buildS3BaseURL("http://minio.local/", "us-east-1", "lessons"))
	assert.Equal(t, "https://lessons.s3.eu-west-1.amazonaws.com", buildS3BaseURL("", "eu-west-1", "lessons"))
}

func TestNewBlobStoreSelectsBackend(t *testing.T) {
	cfg := &config.Config{BlobStore: "local", FileStorageDir: t.TempDir(), PublicBaseURL: "http://x"}
	store, err := NewBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalBlobStore{}, store)

	cfg.BlobStore = "s3"
	cfg.S3Bucket = "lessons"
	cfg.S3Region = "us-east-1"
	cfg.S3AccessKey = "key"
	cfg.S3SecretKey = "secret"
	cfg.S3PublicURL = "https://cdn.example.com/"
	store, err = NewBlobStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a/b.png", store.PublicURL("a/b.png"))

	cfg.BlobStore = "ftp"
	_, err = NewBlobStore(context.Background(), cfg)
	assert.Error(t, err)
}
