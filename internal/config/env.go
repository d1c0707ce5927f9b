package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"medvoice/internal/apperrors"
)

// DefaultEnvPaths are the candidate .env locations tried in order, covering
// the repo root and running from a subdirectory.
var DefaultEnvPaths = []string{".env", ".env.local", "../.env", "../../.env"}

// LoadEnv loads the first env file that exists among paths, defaulting to
// DefaultEnvPaths, and returns which file was loaded. No file existing is
// not an error; variables may be set system wide. A file that exists but
// fails to parse is an error.
func LoadEnv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = DefaultEnvPaths
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return "", apperrors.Wrapf(err, "load %s", p)
		}
		return p, nil
	}
	return "", nil
}

// ProjectRoot walks up from the working directory to the first directory
// containing go.mod.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", apperrors.New("project root not found: no go.mod in any parent directory")
		}
		dir = parent
	}
}
