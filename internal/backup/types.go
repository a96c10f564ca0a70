package backup

import (
	"io"
	"strings"
	"time"
)

// BackupComponents is a bitmask of which components are included in a backup.
type BackupComponents uint32

const (
	ComponentStorage BackupComponents = 1 << iota
	ComponentConfig
	ComponentSecrets
)

func (c BackupComponents) Has(flag BackupComponents) bool {
	return c&flag != 0
}

func (c BackupComponents) String() string {
	var parts []string
	if c.Has(ComponentStorage) {
		parts = append(parts, "storage")
	}
	if c.Has(ComponentConfig) {
		parts = append(parts, "config")
	}
	if c.Has(ComponentSecrets) {
		parts = append(parts, "secrets")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// BackupManifest describes the contents and origin of a backup archive.
type BackupManifest struct {
	Version       string           `json:"version"`
	Timestamp     time.Time        `json:"timestamp"`
	AppVersion    string           `json:"app_version"`
	Components    BackupComponents `json:"components"`
	Backend       string           `json:"backend"`
	OriginalPaths OriginalPaths    `json:"original_paths"`
	StorageInfo   StorageInfo      `json:"storage_info"`
}

// OriginalPaths records where files were located on the source system.
type OriginalPaths struct {
	Config      string `json:"config"`
	StorageRoot string `json:"storage_root"`
	SecretsFile string `json:"secrets_file,omitempty"`
}

// StorageInfo summarizes the archived image storage.
type StorageInfo struct {
	Partitions int   `json:"partitions"`
	Images     int   `json:"images"`
	Size       int64 `json:"size"`
}

// BackupOptions configures backup creation.
type BackupOptions struct {
	ConfigPath     string
	DataRoot       string // resolves a relative storage path
	OutputPath     string
	IncludeSecrets bool
}

// RestoreOptions configures backup restoration.
type RestoreOptions struct {
	BackupPath  string
	DryRun      bool
	Force       bool
	SkipConfig  bool
	ConfigPath  string // overrides the original config location
	StoragePath string // overrides the original storage root
	Verbose     bool

	In  io.Reader // confirmation input, os.Stdin when nil
	Out io.Writer // progress output, os.Stdout when nil
}

// ListOptions configures backup inspection.
type ListOptions struct {
	BackupPath string
	JSONOutput bool
	Verbose    bool
}

// BackupResult is returned by CreateBackup.
type BackupResult struct {
	ArchivePath string           `json:"archive_path"`
	FileCount   int              `json:"file_count"`
	TotalSize   int64            `json:"total_size"`
	Components  BackupComponents `json:"components"`
	Duration    time.Duration    `json:"duration"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// RestoreResult is returned by RestoreBackup.
type RestoreResult struct {
	FilesRestored int              `json:"files_restored"`
	FilesSkipped  int              `json:"files_skipped"`
	Components    BackupComponents `json:"components"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// ListResult is returned by ListBackup.
type ListResult struct {
	Manifest BackupManifest `json:"manifest"`
	Files    []FileEntry    `json:"files"`
}

// FileEntry describes a single file in the backup archive.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Mode string `json:"mode"`
}
