package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteFileCreatesParents(t *testing.T) {
	name := filepath.Join(t.TempDir(), "a", "b", "out.go")
	if err := WriteFile(name, []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "package a\n" {
		t.Fatalf("content = %q", got)
	}

	entries, err := os.ReadDir(filepath.Dir(name))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestUpdate(t *testing.T) {
	name := filepath.Join(t.TempDir(), "bindings.go")

	changed, err := Update(name, []byte("v1"), 0o644)
	if err != nil || !changed {
		t.Fatalf("first Update = %v, %v; want true, nil", changed, err)
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(name, old, old); err != nil {
		t.Fatal(err)
	}

	changed, err = Update(name, []byte("v1"), 0o644)
	if err != nil || changed {
		t.Fatalf("identical Update = %v, %v; want false, nil", changed, err)
	}
	info, err := os.Stat(name)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().After(old) {
		t.Fatalf("mtime not refreshed: %v", info.ModTime())
	}

	changed, err = Update(name, []byte("v2"), 0o644)
	if err != nil || !changed {
		t.Fatalf("changed Update = %v, %v; want true, nil", changed, err)
	}
	got, _ := os.ReadFile(name)
	if string(got) != "v2" {
		t.Fatalf("content = %q, want v2", got)
	}
}
