package datadir

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileEnvVar overrides the .env file path entirely.
const EnvFileEnvVar = "DUPEGUARD_ENV_FILE"

// LoadEnv loads KEY=VALUE pairs from {dataRoot}/.env and then ./.env.
// Existing environment variables always win, and a key set by the first
// file is not replaced by the second. If DUPEGUARD_ENV_FILE is set, only
// that file is read. Missing files are skipped.
func LoadEnv(dataRoot string) error {
	for _, p := range envPaths(dataRoot) {
		if err := loadEnvFile(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func envPaths(dataRoot string) []string {
	if override := os.Getenv(EnvFileEnvVar); override != "" {
		return []string{override}
	}

	var paths []string
	if dataRoot != "" {
		paths = append(paths, filepath.Join(dataRoot, ".env"))
	}
	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, ".env")
		if len(paths) == 0 || filepath.Clean(paths[0]) != filepath.Clean(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// loadEnvFile sets every key of path that is not in the environment yet.
// Since earlier files already populated the environment, first-write-wins
// across files falls out of the same check.
func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}
