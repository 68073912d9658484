package checkpoint_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainrun-backend/internal/checkpoint"
)

func TestFromPathCopiesModelFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0644))

	ckpt, err := checkpoint.FromPath(src)
	require.NoError(t, err)
	defer ckpt.Close()

	assert.True(t, ckpt.HasModel())

	data, err := os.ReadFile(filepath.Join(ckpt.Directory(), checkpoint.ModelKey))
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)

	// The cache dir is independent of the source file.
	require.NoError(t, os.Remove(src))
	assert.True(t, ckpt.HasModel())
}

func TestFromPathRejectsDirectories(t *testing.T) {
	_, err := checkpoint.FromPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FromDirectory")
}

func TestFromPathMissingFile(t *testing.T) {
	_, err := checkpoint.FromPath(filepath.Join(t.TempDir(), "nope.ckpt"))
	assert.Error(t, err)
}

func TestGetModelFailsWithoutModel(t *testing.T) {
	ckpt := checkpoint.FromDirectory(t.TempDir())

	_, err := ckpt.GetModel(func(path string) (any, error) { return nil, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found under the checkpoint directory")
}

func TestGetModelLoadsModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpoint.ModelKey), []byte("weights"), 0644))

	ckpt := checkpoint.FromDirectory(dir)
	model, err := ckpt.GetModel(func(path string) (any, error) {
		return os.ReadFile(path)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), model)
}

func TestStageFileCheckpoint(t *testing.T) {
	src := filepath.Join(t.TempDir(), "last.ckpt")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0644))

	dst := t.TempDir()
	require.NoError(t, checkpoint.Stage(src, dst))
	assert.True(t, checkpoint.FromDirectory(dst).HasModel())
}

func TestStageDirectoryCheckpoint(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "shards"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "meta.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "shards", "rank0.bin"), []byte("shard"), 0644))

	dst := t.TempDir()
	require.NoError(t, checkpoint.Stage(src, dst))

	assert.FileExists(t, filepath.Join(dst, checkpoint.ModelKey, "meta.json"))
	assert.FileExists(t, filepath.Join(dst, checkpoint.ModelKey, "shards", "rank0.bin"))
}

func TestSavePreprocessor(t *testing.T) {
	ckpt := checkpoint.FromDirectory(t.TempDir())
	require.NoError(t, ckpt.SavePreprocessor(bytes.NewReader([]byte("fitted"))))

	data, err := os.ReadFile(filepath.Join(ckpt.Directory(), checkpoint.PreprocessorKey))
	require.NoError(t, err)
	assert.Equal(t, []byte("fitted"), data)
}

func TestCloseRemovesOwnedCacheDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0644))

	ckpt, err := checkpoint.FromPath(src)
	require.NoError(t, err)

	dir := ckpt.Directory()
	require.NoError(t, ckpt.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
