// Package local archives raw backend payloads on the filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Config captures the archive root.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes objects beneath a directory opened as an os.Root, so
// object paths cannot escape it.
type BlobStore struct {
	root *os.Root
	base string
}

// New creates BaseDir if needed and opens it.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	return &BlobStore{root: root, base: abs}, nil
}

// PutObject writes data to BaseDir/objectPath and returns a file:// URI.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	clean := path.Clean("/" + objectPath)[1:]
	if clean == "" || strings.TrimSpace(objectPath) == "" {
		return "", errors.New("path is required")
	}
	rel := filepath.FromSlash(clean)
	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create object directory: %w", err)
		}
	}
	if err := s.root.WriteFile(rel, data, 0o600); err != nil {
		return "", fmt.Errorf("write object %s: %w", clean, err)
	}
	return "file://" + filepath.Join(s.base, rel), nil
}

// Close releases the root directory handle.
func (s *BlobStore) Close() error {
	if err := s.root.Close(); err != nil {
		return fmt.Errorf("close archive root: %w", err)
	}
	return nil
}
