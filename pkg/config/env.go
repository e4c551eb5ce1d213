package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env from the working directory and from dir, in that
// order. Variables already set in the environment are never overwritten, and
// missing files are skipped.
func LoadDotEnv(dir string) error {
	paths := []string{".env"}
	if dir != "" {
		paths = append(paths, filepath.Join(dir, ".env"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// APIKey reads the key named by envName. An empty envName yields "".
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
