package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilesystemStore stores blobs under root, sharded by the first two hex
// characters of the ref. Writes go through a temp file and rename so a
// crash never leaves a partial blob at its final path.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

// Has implements Store.
func (s *FilesystemStore) Has(_ context.Context, ref Ref) (bool, error) {
	_, err := os.Stat(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w", ref, err)
	}
	return true, nil
}

// GetBytes implements Store.
func (s *FilesystemStore) GetBytes(_ context.Context, ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}
	return data, nil
}

// AddBytes implements Store.
func (s *FilesystemStore) AddBytes(_ context.Context, data []byte) (Ref, error) {
	ref := RefOf(data)
	final := s.path(ref)

	if _, err := os.Stat(final); err == nil {
		return ref, nil // content-addressed: already present
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return ref, nil
}

func (s *FilesystemStore) path(ref Ref) string {
	h := string(ref)
	return filepath.Join(s.root, h[:2], h)
}
