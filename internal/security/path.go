// Package security validates untrusted filenames and paths before they
// are used to build filesystem locations.
package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal   = errors.New("path traversal detected")
	ErrPathEscapesBase = errors.New("path escapes base directory")
	ErrSymlinkEscape   = errors.New("symlink escape detected")
	ErrInvalidPath     = errors.New("invalid path")
)

// Traversal sequences, including URL-encoded and double-encoded forms
// that survive a naive clean.
var traversalPatterns = []string{
	"..",
	"%2e%2e",
	"%252e%252e",
	"..%2f",
	"%2f..",
	"..\\",
	"\\..\\",
}

// SafePath is a path proven to stay inside its base directory.
type SafePath struct {
	path string
}

func (sp *SafePath) Path() string {
	return sp.path
}

func (sp *SafePath) String() string {
	return sp.path
}

// ValidatePathInDir resolves p against base and verifies the result
// stays inside base. Traversal sequences are rejected outright, and any
// symlink along the way must also resolve inside base.
func ValidatePathInDir(p, base string) (*SafePath, error) {
	if containsTraversalPattern(p) {
		return nil, ErrPathTraversal
	}

	basePath := filepath.Clean(base)
	if !filepath.IsAbs(basePath) {
		abs, err := filepath.Abs(basePath)
		if err != nil {
			return nil, ErrInvalidPath
		}
		basePath = abs
	}

	var targetPath string
	if filepath.IsAbs(p) {
		targetPath = filepath.Clean(p)
	} else {
		targetPath = filepath.Join(basePath, p)
	}
	targetPath = filepath.Clean(targetPath)

	if err := checkSymlinkEscape(targetPath, basePath); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(targetPath, basePath+string(os.PathSeparator)) && targetPath != basePath {
		return nil, ErrPathEscapesBase
	}

	return &SafePath{path: targetPath}, nil
}

func containsTraversalPattern(p string) bool {
	lower := strings.ToLower(p)
	for _, pattern := range traversalPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func checkSymlinkEscape(targetPath, basePath string) error {
	relPath, err := filepath.Rel(basePath, targetPath)
	if err != nil {
		return nil
	}
	if strings.HasPrefix(relPath, "..") {
		return ErrPathEscapesBase
	}

	currentPath := basePath
	for _, part := range strings.Split(relPath, string(os.PathSeparator)) {
		if part == "" || part == "." {
			continue
		}

		currentPath = filepath.Join(currentPath, part)

		info, err := os.Lstat(currentPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return ErrInvalidPath
		}

		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(currentPath)
			if err != nil {
				continue
			}

			resolved = filepath.Clean(resolved)
			if !strings.HasPrefix(resolved, basePath+string(os.PathSeparator)) && resolved != basePath {
				return ErrSymlinkEscape
			}
		}
	}

	return nil
}
