//go:build !windows

package fsutil

import (
	"os"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic replaces the file at path with data in one step. The
// session and run-record files go through here so a reader never observes
// a half-written JSON document. renameio syncs before the rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
