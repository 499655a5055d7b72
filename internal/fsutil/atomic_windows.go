//go:build windows

package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces the file at path with data in one step. On
// Windows renameio is unavailable, so this is a write-rename on the same
// volume.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return err
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}

	return nil
}
