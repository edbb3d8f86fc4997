package fsstore

import (
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Version int      `json:"version"`
	Items   []string `json:"items"`
}

func TestReadJSONMissingFile(t *testing.T) {
	var out doc
	found, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if found {
		t.Fatalf("ReadJSON() found = true for missing file")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := doc{Version: 1, Items: []string{"a", "b"}}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}

	var out doc
	found, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !found {
		t.Fatalf("ReadJSON() found = false after write")
	}
	if out.Version != 1 || len(out.Items) != 2 || out.Items[1] != "b" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := WriteJSONAtomic(path, doc{Version: 1}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "doc.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestReadJSONEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var out doc
	found, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if found {
		t.Fatalf("ReadJSON() found = true for empty file")
	}
}
