// Package store provides graph storage implementations.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the per-project and per-user data directory.
const DirName = ".tracegraph"

// DBFileName is the database file inside DirName.
const DBFileName = "tracegraph.db"

// GlobalPath returns the path to the global .tracegraph directory.
// On Unix: ~/.tracegraph
// On Windows: %USERPROFILE%\.tracegraph
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalPath returns the path to the local .tracegraph directory
// for the given project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// DefaultDBPath returns the database path for the given project root.
func DefaultDBPath(projectRoot string) string {
	return filepath.Join(LocalPath(projectRoot), DBFileName)
}

// EnsureGlobalDir creates the global .tracegraph directory if it doesn't exist.
func EnsureGlobalDir() error {
	globalPath, err := GlobalPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(globalPath, 0755); err != nil {
		return fmt.Errorf("failed to create global %s directory: %w", DirName, err)
	}

	return nil
}
