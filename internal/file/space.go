package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FreeSpace returns the bytes available to the current user on the volume
// holding path. When path does not exist yet, the nearest existing ancestor
// is measured instead, so a download directory can be checked before it is
// created.
func FreeSpace(path string) (uint64, error) {
	if path == "" {
		return 0, errors.New("empty path")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return 0, err
	}
	free, err := freeBytes(existing)
	if err != nil {
		return 0, fmt.Errorf("free space of %s: %w", existing, err)
	}
	return free, nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", abs, err)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		abs = parent
	}
}
