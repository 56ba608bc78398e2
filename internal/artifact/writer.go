// Package artifact persists rendered output and inspects produced files.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sentinel errors for artifact operations.
var (
	ErrIOFailure     = errors.New("failed to write output file")
	ErrUnknownFormat = errors.New("unrecognized output format")
)

const (
	dirPermissions  = 0o750 // rwxr-x---: owner full, group read+execute
	filePermissions = 0o644 // rw-r--r--: owner read+write, others read
)

// Write stores data at path atomically: the bytes go to a temporary file in
// the same directory, which is synced and renamed over path. Either the full
// content is visible at path or the call fails and path is left untouched.
// Missing parent directories are created. All failures wrap ErrIOFailure.
func Write(path string, data []byte) (err error) {
	if path == "" {
		return fmt.Errorf("%w: empty output path", ErrIOFailure)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: no data to write", ErrIOFailure)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", ErrIOFailure, err)
	}

	tmp, err := os.CreateTemp(dir, ".markup2pdf-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrIOFailure, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIOFailure, path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIOFailure, path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIOFailure, path, err)
	}
	// #nosec G302 -- rendered documents are meant to be readable
	if err = os.Chmod(tmpPath, filePermissions); err != nil {
		return fmt.Errorf("%w: setting permissions on %s: %v", ErrIOFailure, path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: moving into place %s: %v", ErrIOFailure, path, err)
	}

	return nil
}
