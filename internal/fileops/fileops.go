package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fusionn-scribe/pkg/logger"
)

// tmpSuffix marks files that are still being written; they never count as artifacts.
const tmpSuffix = ".tmp"

// WriteFileAtomic writes data to a temporary sibling of path and renames it into place,
// so readers only ever see the previous content or the complete new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// TempPath returns the in-progress name used while an external tool writes path.
func TempPath(path string) string {
	return path + tmpSuffix
}

// IsTemp reports whether name is an in-progress artifact.
func IsTemp(name string) bool {
	return filepath.Ext(name) == tmpSuffix
}

// ReplaceDir swaps dst for the fully written src directory.
func ReplaceDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove old dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename dir: %w", err)
	}
	logger.Debugf("📦 Replaced: %s → %s", src, dst)
	return nil
}

// ClearDir removes every entry inside dir, keeping dir itself.
func ClearDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, EnsureDir(dir)
	}
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return 0, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return len(entries), nil
}

// ListFiles returns the sorted full paths of regular, non-temporary files in dir.
// A missing directory yields an empty list.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || IsTemp(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// RemoveIfEmpty deletes dir when it has no entries left.
func RemoveIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	return true, os.Remove(dir)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists checks if a file or directory exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a file, ignoring a file that is already gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ChangeExtension changes the extension of a filename.
func ChangeExtension(path, newExt string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + newExt
}

// BaseName returns the file name without directory or extension.
func BaseName(path string) string {
	return ChangeExtension(filepath.Base(path), "")
}
