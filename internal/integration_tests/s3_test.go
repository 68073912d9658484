package integrationtests

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainrun-backend/internal/storage"
)

const bucketName = "test-bucket"

func setupTestObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
	return objectStore
}

func TestS3ObjectStore_PutObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	key := "test-dir/test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content))
	require.NoError(t, err)

	obj, err := objectStore.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_CreateBucketTwice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	assert.NoError(t, objectStore.CreateBucket(ctx, bucketName))
}

func TestS3ObjectStore_DeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	files := []string{"test-dir/file1.txt", "test-dir/subdir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, file, bytes.NewReader([]byte("content: "+file))))
	}

	require.NoError(t, objectStore.DeleteObjects(ctx, bucketName, "test-dir"))

	_, err := objectStore.GetObject(ctx, bucketName, "test-dir/file1.txt")
	assert.Error(t, err)

	obj, err := objectStore.GetObject(ctx, bucketName, "other-dir/file3.txt")
	require.NoError(t, err)
	obj.Close()
}

func TestS3ObjectStore_UploadDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	srcDir := t.TempDir()
	dest := "uploaded"

	files := []string{"file1.txt", "file2.txt", "subdir/file3.txt"}
	for _, file := range files {
		filePath := filepath.Join(srcDir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content: "+file), os.ModePerm))
	}

	err := objectStore.UploadDir(ctx, bucketName, dest, srcDir)
	require.NoError(t, err)

	for _, file := range files {
		obj, err := objectStore.GetObject(ctx, bucketName, dest+"/"+file)
		require.NoError(t, err)
		defer obj.Close()

		data, err := io.ReadAll(obj)
		require.NoError(t, err)
		assert.Equal(t, "content: "+file, string(data))
	}
}

func TestS3ObjectStore_DownloadDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	src := "to-download"
	destDir := filepath.Join(t.TempDir(), "download-target")

	files := []string{"file1.txt", "file2.txt", "subdir/file3.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, src+"/"+file, strings.NewReader("content: "+file)))
	}

	err := objectStore.DownloadDir(ctx, bucketName, src, destDir, false)
	require.NoError(t, err)

	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(destDir, file))
		require.NoError(t, err)
		assert.Equal(t, "content: "+file, string(data))
	}
}

func TestS3ObjectStore_DownloadDir_Overwrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	src := "to-download"
	destDir := t.TempDir()

	destFile := filepath.Join(destDir, "file1.txt")
	require.NoError(t, os.WriteFile(destFile, []byte("original"), os.ModePerm))

	files := []string{"file1.txt", "file2.txt"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, src+"/"+file, strings.NewReader("new content")))
	}

	err := objectStore.DownloadDir(ctx, bucketName, src, destDir, false)
	require.Error(t, err)
	data, err := os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "File should not be overwritten when overwrite=false")

	err = objectStore.DownloadDir(ctx, bucketName, src, destDir, true)
	require.NoError(t, err)
	data, err = os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data), "File should be overwritten when overwrite=true")
}
