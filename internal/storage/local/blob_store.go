// Package local stores run archives on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory that holds every archive.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes objects beneath a single directory. Writes go through an
// os.Root so object keys cannot escape BaseDir.
type BlobStore struct {
	baseDir string
	root    *os.Root
}

// New creates the base directory when missing and opens it for writing.
func New(cfg Config) (*BlobStore, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", baseDir)
	}

	probe := filepath.Join(baseDir, ".writable")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = os.Remove(probe)

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}
	return &BlobStore{baseDir: abs, root: root}, nil
}

// PutObject writes data under key and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, data io.Reader) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	if dir := path.Dir(clean); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create object directory: %w", err)
		}
	}
	if err := s.root.WriteFile(clean, body, 0o600); err != nil {
		return "", fmt.Errorf("write object %s: %w", clean, err)
	}
	return "file://" + filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

// GetObject reads back an object written by PutObject.
func (s *BlobStore) GetObject(_ context.Context, key string) ([]byte, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.root.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", clean, err)
	}
	return data, nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	if err := s.root.Close(); err != nil {
		return fmt.Errorf("close base directory: %w", err)
	}
	return nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("object key is required")
	}
	clean := path.Clean(strings.TrimPrefix(key, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("object key %q escapes the base directory", key)
	}
	return clean, nil
}
