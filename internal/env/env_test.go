package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkDir(t *testing.T) {
	workDir, err := WorkDir()
	if err != nil {
		t.Fatalf("WorkDir() returned error: %v", err)
	}

	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		t.Fatalf("os.UserCacheDir() returned error: %v", err)
	}
	if want := filepath.Join(userCacheDir, ".skiabind"); workDir != want {
		t.Errorf("WorkDir() = %q, want %q", workDir, want)
	}
}

func TestDownloadDir(t *testing.T) {
	// XDG_CACHE_HOME is only honored on Unix-like systems; elsewhere this
	// still exercises the real cache location.
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	dir, err := DownloadDir()
	if err != nil {
		t.Fatalf("DownloadDir() returned error: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("DownloadDir() created a file instead of a directory")
	}

	// Should be idempotent
	dir2, err := DownloadDir()
	if err != nil {
		t.Fatalf("Second DownloadDir() call failed: %v", err)
	}
	if dir != dir2 {
		t.Errorf("DownloadDir() not idempotent: first call = %q, second call = %q", dir, dir2)
	}
}
