package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	fileutil "mediaqueue/internal/file"
)

// FileStore keeps each document as <dir>/<name>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(_ context.Context, name string, v any) error {
	err := fileutil.ReadJSON(s.path(name), v)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err //nolint:wrapcheck
}

func (s *FileStore) Save(_ context.Context, name string, v any) error {
	return fileutil.WriteJSONAtomic(s.path(name), v) //nolint:wrapcheck
}

func (s *FileStore) Close() error { return nil }
