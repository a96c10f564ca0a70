package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default data directory name under $HOME.
	DefaultDirName = ".dupeguard"

	// EnvVar is the environment variable that overrides the data directory.
	EnvVar = "DUPEGUARD_DATA_DIR"

	// ConfigFileName is the config file looked up inside ConfigDir.
	ConfigFileName = "config.json"

	configSubdir = "config"
	imagesSubdir = "images"
	backupSubdir = "backups"
)

// DataDir is the single source of truth for data-directory paths.
type DataDir struct {
	root string
}

// New returns a DataDir rooted at the resolved data directory.
// It does NOT create anything; call EnsureDirs for that.
//
// Resolution priority:
//  1. DUPEGUARD_DATA_DIR environment variable
//  2. configValue argument (data_dir from the config file)
//  3. ~/.dupeguard/
func New(configValue string) (*DataDir, error) {
	root, err := resolveRoot(configValue)
	if err != nil {
		return nil, err
	}
	return &DataDir{root: root}, nil
}

// Root returns the base data directory path.
func (d *DataDir) Root() string { return d.root }

// ConfigDir returns {root}/config/.
func (d *DataDir) ConfigDir() string { return filepath.Join(d.root, configSubdir) }

// ConfigPath returns {root}/config/config.json.
func (d *DataDir) ConfigPath() string { return filepath.Join(d.ConfigDir(), ConfigFileName) }

// ImagesDir returns {root}/images/, the default storage root.
func (d *DataDir) ImagesDir() string { return filepath.Join(d.root, imagesSubdir) }

// BackupDir returns {root}/backups/.
func (d *DataDir) BackupDir() string { return filepath.Join(d.root, backupSubdir) }

// EnsureDirs creates the root and all subdirectories with 0700 permissions.
func (d *DataDir) EnsureDirs() error {
	for _, dir := range []string{d.root, d.ConfigDir(), d.ImagesDir(), d.BackupDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// resolveRoot determines the root path without creating it.
func resolveRoot(configValue string) (string, error) {
	dir := os.Getenv(EnvVar)
	if dir == "" {
		dir = configValue
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}
	return dir, nil
}
