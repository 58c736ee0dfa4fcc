// Package filex holds local filesystem helpers used by the file storage
// backend.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (and parents) if needed and returns its absolute path.
// An existing non-directory at dir is an error.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// IsDir reports whether path is an existing directory. IO errors count as false.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// IsRegular reports whether path is an existing regular file.
func IsRegular(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// Exists reports whether path exists. Errors other than "not exist" are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// SplitExt splits name into base and extension ("a.map" -> "a", ".map").
// Leading-dot names such as ".hidden" have no extension.
func SplitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name || strings.TrimSuffix(name, ext) == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
