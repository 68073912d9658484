package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"trainrun-backend/internal/storage"
)

// ModelKey is the fixed name of the serialized model inside a checkpoint
// directory. External tooling relies on this layout.
const ModelKey = "model"

// PreprocessorKey is the name of the optional fitted-preprocessor artifact
// saved next to the model.
const PreprocessorKey = "preprocessor"

// Checkpoint wraps a local directory holding a serialized model under
// ModelKey, plus an optional preprocessor artifact. A checkpoint created by
// FromPath owns a cache directory and should be closed after use.
type Checkpoint struct {
	dir   string
	owned bool
}

// FromDirectory wraps an existing checkpoint directory in place. The
// directory may be empty: non-reporting ranks hand off empty placeholder
// checkpoints so synchronization never blocks on them.
func FromDirectory(dir string) *Checkpoint {
	return &Checkpoint{dir: dir}
}

// FromPath creates a checkpoint from a single model file, copying it into a
// fresh cache directory under ModelKey. Directories are rejected; wrap them
// with FromDirectory instead.
func FromPath(path string) (*Checkpoint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint file %s does not exist: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("FromPath expects a file path, but %s is a directory; use FromDirectory instead", path)
	}

	cacheDir, err := os.MkdirTemp("", "checkpoint-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint cache dir: %w", err)
	}

	if err := copyFile(path, filepath.Join(cacheDir, ModelKey)); err != nil {
		os.RemoveAll(cacheDir)
		return nil, err
	}

	return &Checkpoint{dir: cacheDir, owned: true}, nil
}

func (c *Checkpoint) Directory() string { return c.dir }

// HasModel reports whether the directory holds an actual model, as opposed
// to a placeholder checkpoint from a non-reporting rank.
func (c *Checkpoint) HasModel() bool {
	_, err := os.Stat(filepath.Join(c.dir, ModelKey))
	return err == nil
}

// SavePreprocessor serializes a fitted preprocessor artifact next to the
// model.
func (c *Checkpoint) SavePreprocessor(artifact io.Reader) error {
	path := filepath.Join(c.dir, PreprocessorKey)
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create preprocessor artifact %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, artifact); err != nil {
		return fmt.Errorf("failed to write preprocessor artifact %s: %w", path, err)
	}
	return nil
}

// GetModel loads the model stored in this checkpoint through the training
// library's loader. Fails if the model file is missing.
func (c *Checkpoint) GetModel(loader func(path string) (any, error)) (any, error) {
	if loader == nil {
		return nil, fmt.Errorf("model loader must not be nil")
	}

	path := filepath.Join(c.dir, ModelKey)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file %s not found under the checkpoint directory", path)
	}

	model, err := loader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model from %s: %w", path, err)
	}
	return model, nil
}

// Upload pushes the checkpoint directory to the object store under the
// given bucket and prefix.
func (c *Checkpoint) Upload(ctx context.Context, store storage.ObjectStore, bucket, prefix string) error {
	if err := store.UploadDir(ctx, bucket, prefix, c.dir); err != nil {
		return fmt.Errorf("failed to upload checkpoint to %s/%s: %w", bucket, prefix, err)
	}
	return nil
}

// Download fetches a previously uploaded checkpoint into dest and wraps it.
func Download(ctx context.Context, store storage.ObjectStore, bucket, prefix, dest string) (*Checkpoint, error) {
	if err := store.DownloadDir(ctx, bucket, prefix, dest, true); err != nil {
		return nil, fmt.Errorf("failed to download checkpoint from %s/%s: %w", bucket, prefix, err)
	}
	return FromDirectory(dest), nil
}

// Close removes the cache directory if this checkpoint owns one.
func (c *Checkpoint) Close() error {
	if !c.owned || c.dir == "" {
		return nil
	}
	dir := c.dir
	c.dir = ""
	return os.RemoveAll(dir)
}

// Stage copies a library-native checkpoint (file or directory) into dir
// under ModelKey:
//   - file checkpoint:      last.ckpt   -> <dir>/model
//   - directory checkpoint: last.ckpt/* -> <dir>/model/*
func Stage(srcModelPath, dir string) error {
	info, err := os.Stat(srcModelPath)
	if err != nil {
		return fmt.Errorf("checkpoint source %s does not exist: %w", srcModelPath, err)
	}

	dst := filepath.Join(dir, ModelKey)
	if info.IsDir() {
		return copyTree(srcModelPath, dst)
	}
	return copyFile(srcModelPath, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", src, err)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, os.ModePerm)
		}
		return copyFile(path, target)
	})
}
