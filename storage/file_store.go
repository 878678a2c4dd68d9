package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves blobs to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes a blob under its filename, replacing any previous content.
func (f *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	target := filepath.Join(f.basePath, safeFilename(key))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write file %q: %w", key, err)
	}
	return nil
}

// Delete removes a blob; a missing file is not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	target := filepath.Join(f.basePath, safeFilename(key))
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file %q: %w", key, err)
	}
	return nil
}

func safeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "blob"
	}
	return name
}
