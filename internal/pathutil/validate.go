// Package pathutil confines file locations handed to tracegraph (database
// paths, node files) to known data directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDirName is the per-user and per-project data directory name.
const DataDirName = ".tracegraph"

// RedactPath reduces a full path to .../<parent>/<basename> for error
// messages and logs, e.g. "/home/ana/.tracegraph/tracegraph.db" becomes
// ".../.tracegraph/tracegraph.db".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// ValidatePath reports an error unless path resolves to a location inside
// one of allowedDirs. Symlinks are resolved on the deepest existing
// ancestor so a file that does not exist yet can still be checked.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return fmt.Errorf("invalid path: empty")
	case len(allowedDirs) == 0:
		return fmt.Errorf("invalid path: no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("invalid path: contains null byte")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	resolvedDir, err := resolveExisting(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(absPath))

	for _, dir := range allowedDirs {
		allowed, err := filepath.Abs(filepath.Clean(dir))
		if err != nil {
			continue
		}
		if allowed, err = resolveExisting(allowed); err != nil {
			continue
		}
		if within(resolved, allowed) {
			return nil
		}
	}
	return fmt.Errorf("invalid path: %q is outside the tracegraph data directories", RedactPath(absPath))
}

// resolveExisting resolves symlinks on the deepest existing ancestor of dir
// and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// within reports whether path is base or lies below it.
func within(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// DataDirs returns the directories tracegraph may keep databases in:
// ~/.tracegraph and, when projectRoot is set, <projectRoot>/.tracegraph.
func DataDirs(projectRoot string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(home, DataDirName)}
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, DataDirName))
	}
	return dirs, nil
}
