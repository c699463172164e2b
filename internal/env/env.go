package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the per-user working directory of skiabind.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".skiabind"), nil
}

// DownloadDir returns the directory holding downloaded prebuilt archives,
// creating it if necessary. Archives are stored under <DownloadDir>/<content-id>/.
func DownloadDir() (string, error) {
	workDir, err := WorkDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(workDir, "downloads")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
