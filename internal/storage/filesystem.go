package storage

import (
	"os"
	"path/filepath"
)

// CopyFile copies the contents of srcPath into destPath, creating or
// truncating destPath.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		_ = destFile.Close()
		return err
	}
	return destFile.Close()
}

// stagingPrefix names the temporary files ReplaceFile writes next to their
// destination.
const stagingPrefix = ".put-"

// ReplaceFile atomically replaces destPath with a copy of srcPath. The copy
// is staged in a temporary file next to destPath and renamed over it, so
// readers never observe a partially written blob.
func ReplaceFile(srcPath string, destPath string, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), stagingPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	// NOTE: once the rename succeeds the temp path no longer exists, so
	// this only cleans up after a failure.
	defer os.Remove(tmpPath)

	if err := CopyFile(srcPath, tmpPath); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
