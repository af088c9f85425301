package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemStore keeps assets under <root>/<kind>/<key>.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root and one directory per kind.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	for _, k := range Kinds {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(kind Kind, key string) (string, error) {
	if err := validate(kind, key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(kind), key), nil
}

// Load reads an asset.
func (s *FilesystemStore) Load(ctx context.Context, kind Kind, key string) ([]byte, error) {
	path, err := s.path(kind, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", kind, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", kind, key, err)
	}
	return data, nil
}

// Store writes to a temporary file in the same directory and renames it over
// the destination.
func (s *FilesystemStore) Store(ctx context.Context, kind Kind, key string, data []byte, contentType string) error {
	path, err := s.path(kind, key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s/%s: %w", kind, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s/%s: %w", kind, key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s/%s: %w", kind, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s/%s: %w", kind, key, err)
	}
	return nil
}

// Delete removes an asset if present.
func (s *FilesystemStore) Delete(ctx context.Context, kind Kind, key string) error {
	path, err := s.path(kind, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", kind, key, err)
	}
	return nil
}
