// Package source enumerates candidate items: image directories and the
// sqlite frame store.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExtensions are the recognized image file extensions, matched
// case-insensitively.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
}

// IsImagePath reports whether path has a recognized image extension.
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListImages returns the absolute paths of regular image files directly in
// dir, sorted lexicographically for deterministic scans. Subdirectories are
// not descended into. Returns an error if dir cannot be read or is not a
// directory.
func ListImages(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImagePath(e.Name()) {
			continue
		}
		path := filepath.Join(absDir, e.Name())
		// Resolve symlinks so only regular files are scanned.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
