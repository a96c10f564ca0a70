package backup

import (
	"archive/tar"
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"

	"dupeguard/imagedb/storage"
	"dupeguard/internal/config"
)

// CreateBackup produces a .tar.gz archive of the image storage and config.
func CreateBackup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	start := time.Now()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absConfigPath, err := filepath.Abs(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	storageRoot, err := filepath.Abs(cfg.StorageRoot(opts.DataRoot))
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	result := &BackupResult{Components: ComponentConfig}
	paths := OriginalPaths{Config: absConfigPath, StorageRoot: storageRoot}

	switch cfg.Storage.Backend {
	case config.BackendFile, config.BackendSQLite:
		result.Components |= ComponentStorage
	default:
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("storage backend %s is not archived", cfg.Storage.Backend))
	}
	if opts.IncludeSecrets && cfg.SecretsFile != "" {
		result.Components |= ComponentSecrets
		paths.SecretsFile = cfg.SecretsFile
	}

	// SQLite partitions are snapshotted first so the archive never holds a
	// database mid-write.
	tmpDir, err := os.MkdirTemp("", "dupeguard-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var info StorageInfo
	var snapshots map[string]string
	if result.Components.Has(ComponentStorage) {
		if cfg.Storage.Backend == config.BackendSQLite {
			snapshots, info, err = snapshotDatabases(ctx, storageRoot, tmpDir)
		} else {
			info, err = inspectFileStorage(storageRoot)
		}
		if err != nil {
			return nil, fmt.Errorf("inspect storage: %w", err)
		}
	}

	manifest := NewManifest(result.Components, cfg.Storage.Backend, paths, info)

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = fmt.Sprintf("dupeguard-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}
	outPath, err = filepath.Abs(outPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	result.ArchivePath = outPath

	if err := writeArchive(outPath, manifest, snapshots, opts, result); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	if stat, err := os.Stat(outPath); err == nil {
		result.TotalSize = stat.Size()
	}
	result.Duration = time.Since(start)
	return result, nil
}

func writeArchive(outPath string, manifest *BackupManifest, snapshots map[string]string, opts BackupOptions, result *BackupResult) error {
	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	manifestData, err := MarshalManifest(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeTarBytes(tw, manifestName, manifestData); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	result.FileCount++

	if err := writeTarFile(tw, "config/"+filepath.Base(opts.ConfigPath), manifest.OriginalPaths.Config); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	result.FileCount++

	if manifest.Components.Has(ComponentSecrets) {
		if err := writeTarFile(tw, "secrets/"+filepath.Base(manifest.OriginalPaths.SecretsFile), manifest.OriginalPaths.SecretsFile); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("secrets file not archived: %v", err))
		} else {
			result.FileCount++
		}
	}

	if manifest.Components.Has(ComponentStorage) {
		if snapshots != nil {
			for name, snap := range snapshots {
				if err := writeTarFile(tw, "storage/"+name, snap); err != nil {
					return fmt.Errorf("write %s: %w", name, err)
				}
				result.FileCount++
			}
		} else if stat, err := os.Stat(manifest.OriginalPaths.StorageRoot); err == nil && stat.IsDir() {
			n, err := writeTarDir(tw, "storage", manifest.OriginalPaths.StorageRoot)
			if err != nil {
				return fmt.Errorf("write storage: %w", err)
			}
			result.FileCount += n
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("storage root not found: %s", manifest.OriginalPaths.StorageRoot))
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finish gzip: %w", err)
	}
	return outFile.Close()
}

// inspectFileStorage counts partitions and images under a file backend root.
func inspectFileStorage(root string) (StorageInfo, error) {
	var info StorageInfo
	parts, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	for _, p := range parts {
		if !p.IsDir() {
			continue
		}
		info.Partitions++
		entries, err := os.ReadDir(filepath.Join(root, p.Name()))
		if err != nil {
			return info, err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			if fi, err := e.Info(); err == nil {
				info.Size += fi.Size()
			}
			if !storage.IsSidecar(name) {
				info.Images++
			}
		}
	}
	return info, nil
}

// snapshotDatabases copies every partition database via VACUUM INTO and
// returns archive name -> snapshot path.
func snapshotDatabases(ctx context.Context, root, tmpDir string) (map[string]string, StorageInfo, error) {
	var info StorageInfo
	paths, err := filepath.Glob(filepath.Join(root, "*.db"))
	if err != nil {
		return nil, info, err
	}

	snapshots := make(map[string]string, len(paths))
	for _, src := range paths {
		name := filepath.Base(src)
		dst := filepath.Join(tmpDir, name)
		images, err := snapshotDatabase(ctx, src, dst)
		if err != nil {
			return nil, info, fmt.Errorf("snapshot %s: %w", name, err)
		}
		if stat, err := os.Stat(dst); err == nil {
			info.Size += stat.Size()
		}
		info.Partitions++
		info.Images += images
		snapshots[name] = dst
	}
	return snapshots, info, nil
}

// snapshotDatabase creates a clean, WAL-free copy of one partition and
// returns its image count.
func snapshotDatabase(ctx context.Context, srcPath, dstPath string) (int, error) {
	db, err := sql.Open("sqlite", srcPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dstPath, "'", "''"))); err != nil {
		return 0, fmt.Errorf("vacuum into: %w", err)
	}
	return count, nil
}

// writeTarBytes writes in-memory data as a tar entry.
func writeTarBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// writeTarFile adds a file from disk to the tar archive.
func writeTarFile(tw *tar.Writer, archivePath, diskPath string) error {
	fi, err := os.Stat(diskPath)
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    archivePath,
		Mode:    int64(fi.Mode().Perm()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// writeTarDir recursively adds a directory to the tar archive, skipping
// in-flight temp files. Returns the number of files written.
func writeTarDir(tw *tar.Writer, prefix, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || storage.IsTempFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		archivePath := prefix + "/" + filepath.ToSlash(rel)

		if err := writeTarFile(tw, archivePath, path); err != nil {
			return fmt.Errorf("write %s: %w", archivePath, err)
		}
		count++
		return nil
	})
	return count, err
}
