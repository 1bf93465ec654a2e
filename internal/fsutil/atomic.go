// Package fsutil holds the write-to-temp-then-rename helpers every persisted
// logsift artifact goes through. Readers never observe a partially written
// file; a crash mid-write leaves at most an orphaned *.tmp sibling.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// TempSuffix marks in-progress writes
const TempSuffix = ".tmp"

// WriteFile atomically replaces path with data
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteWith(path, func(tmpPath string) error {
		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return err
		}
		if err := f.Chmod(perm); err != nil {
			_ = f.Close()
			return err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

// WriteWith creates a temporary sibling of path, lets fn fill it and renames
// it over path when fn succeeds. On failure the temporary file is removed.
func WriteWith(path string, fn func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+TempSuffix)
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp file")
	}

	if err := fn(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to rename %s into place", tmpPath)
	}
	return nil
}

// Exists reports whether path exists and is a regular file
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
