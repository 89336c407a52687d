// Package security validates the file paths the CLI writes to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned for paths that resolve outside every
// allowed directory.
var ErrOutsideAllowedDirs = errors.New("path outside allowed directories")

// canonical returns the absolute, symlink-free form of path. For paths
// that do not exist yet the deepest existing ancestor is resolved, so a
// symlinked parent directory cannot redirect a new file elsewhere.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	var missing []string
	dir := abs
	for {
		parent := filepath.Dir(dir)
		missing = append(missing, filepath.Base(dir))
		if parent == dir {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		dir = parent
	}
}

// within reports whether path lies inside dir; both must be canonical.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ValidatePathWithinDirectory returns an error unless filePath, with
// symlinks resolved, lies inside safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	path, err := canonical(filePath)
	if err != nil {
		return err
	}
	dir, err := canonical(safeDir)
	if err != nil {
		return err
	}
	if !within(path, dir) {
		return fmt.Errorf("%w: %s escapes %s", ErrOutsideAllowedDirs, filePath, safeDir)
	}
	return nil
}

// ValidateOutputPath checks that filePath lies inside one of allowedDirs.
// With no directories given, the working directory and the temp directory
// are allowed.
func ValidateOutputPath(filePath string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{cwd, os.TempDir()}
	}
	for _, dir := range allowedDirs {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in %v", ErrOutsideAllowedDirs, filePath, allowedDirs)
}

// RequireExtension checks, case-insensitively, that path ends in one of exts
// (given with the leading dot).
func RequireExtension(path string, exts ...string) error {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return nil
		}
	}
	return fmt.Errorf("%s: extension must be one of %v, got %q", path, exts, ext)
}

// maxFilenameLen bounds the length of SanitizeFilename results.
const maxFilenameLen = 128

// SanitizeFilename turns an arbitrary string, such as a dataset name, into a
// file name made of ASCII letters, digits, '.', '_' and '-'. Runs of other
// characters become one underscore.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		ok := r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
		if b.Len() >= maxFilenameLen {
			break
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
