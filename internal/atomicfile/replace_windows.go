//go:build windows

package atomicfile

import "golang.org/x/sys/windows"

// osReplace uses MoveFileEx with REPLACE_EXISTING|WRITE_THROUGH.
func osReplace(tmpPath, dest string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}

// syncDir is a no-op on Windows; directory fsync is not available.
func syncDir(dir string) error { return nil }
