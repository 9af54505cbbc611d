// Package local writes exported item parts under a base directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory parts are written under. It is created
	// when missing.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes parts through an os.Root, so no object path can resolve
// outside BaseDir.
type BlobStore struct {
	dir  string
	root *os.Root
}

// New creates the base directory if needed, opens it as a root and checks
// that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	dir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	const marker = ".writable_test"
	if err := root.WriteFile(marker, nil, 0o600); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := root.Remove(marker); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("remove write marker: %w", err)
	}
	return &BlobStore{dir: dir, root: root}, nil
}

// PutObject streams r into path below the base directory and returns a
// file:// URI. The part is written to a temp name first and renamed, so
// readers never observe a partial file.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, r io.Reader) (string, error) {
	name := filepath.Clean(filepath.FromSlash(strings.TrimSpace(path)))
	switch {
	case name == "." || name == "":
		return "", errors.New("path is required")
	case filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("path traversal detected in %q", path)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	if parent := filepath.Dir(name); parent != "." {
		if err := s.root.MkdirAll(parent, 0o750); err != nil {
			return "", fmt.Errorf("create parent directories: %w", err)
		}
	}

	tmp := filepath.Join(filepath.Dir(name), ".part-"+uuid.NewString())
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("move %s into place: %w", name, err)
	}
	return "file://" + filepath.Join(s.dir, name), nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	if err := s.root.Close(); err != nil {
		return fmt.Errorf("close local blob store: %w", err)
	}
	return nil
}
