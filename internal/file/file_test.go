package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	in := map[string]int{"a": 1, "b": 2}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	// overwrite must replace the previous document
	in["c"] = 3
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	var out map[string]int
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 3 || out["c"] != 3 {
		t.Fatalf("unexpected document: %v", out)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestReadJSONMissing(t *testing.T) {
	var v any
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWriteJSONAtomicRejectsEmptyName(t *testing.T) {
	if err := WriteJSONAtomic("", 1); err == nil {
		t.Fatalf("expected error for empty filename")
	}
}

func TestFreeSpaceWalksToExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	free, err := FreeSpace(filepath.Join(dir, "not", "yet", "created"))
	if err != nil {
		t.Fatalf("free space: %v", err)
	}
	if free == 0 {
		t.Fatalf("expected non-zero free space on temp volume")
	}
}

func TestNonEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	full := filepath.Join(dir, "full")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if NonEmpty(empty) || !NonEmpty(full) || NonEmpty(dir) {
		t.Fatalf("unexpected NonEmpty results")
	}
}
