// Package dotdir manages the .finsight/ and ~/.finsight directories that hold
// config.toml, the default sqlite database and optional .env files.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the finsight directory.
	dirName = ".finsight"

	// dbFile is the default sqlite database file name.
	dbFile = "finsight.db"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .finsight/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.finsight/ dir
//  3. Home ~/.finsight/ dir
//
// The directory is created when missing.
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating finsight directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// DatabasePath returns the default sqlite database path inside the resolved
// directory.
func (m *Manager) DatabasePath(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFile), nil
}

// localDirExists checks whether a .finsight/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
