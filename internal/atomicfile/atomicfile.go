// Package atomicfile writes files so that readers observe either the old or
// the new content, never a truncated one.
package atomicfile

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// WriteFile writes data to a temporary file in the destination directory and
// moves it over name once it is fully synced.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return Write(name, bytes.NewReader(data), perm)
}

// Write is like WriteFile but streams the content from r.
func Write(name string, r io.Reader, perm fs.FileMode) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, perm)

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, name); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// Replace moves an already written file over dest.
func Replace(src, dest string) error {
	return osReplace(src, dest)
}

// Update writes data to name unless name already holds exactly data, in which
// case only its modification time is moved to now. It reports whether the
// content changed.
func Update(name string, data []byte, perm fs.FileMode) (changed bool, err error) {
	old, err := os.ReadFile(name)
	switch {
	case err == nil && bytes.Equal(old, data):
		now := time.Now()
		return false, os.Chtimes(name, now, now)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, err
	}
	if err := WriteFile(name, data, perm); err != nil {
		return false, err
	}
	return true, nil
}
