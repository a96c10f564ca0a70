package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// RestoreBackup extracts a backup archive to the original or overridden
// locations. The bot should be stopped first.
func RestoreBackup(opts RestoreOptions) (*RestoreResult, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	manifest, err := readManifestFromArchive(opts.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := ValidateManifest(manifest); err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}

	result := &RestoreResult{Components: manifest.Components}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run restore of: %s\n", opts.BackupPath)
	} else if !opts.Force {
		if !confirm(opts.In, out, manifest) {
			return nil, fmt.Errorf("restore cancelled by user")
		}
	}

	ar, err := openArchive(opts.BackupPath)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		dest, skip, err := mapEntryToDestination(hdr.Name, manifest, opts)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
			result.FilesSkipped++
			continue
		}
		if skip {
			result.FilesSkipped++
			if opts.DryRun {
				fmt.Fprintf(out, "  SKIP  %s\n", hdr.Name)
			} else if opts.Verbose {
				result.Warnings = append(result.Warnings, fmt.Sprintf("skipped: %s", hdr.Name))
			}
			continue
		}
		if dest == "" {
			continue
		}

		if opts.DryRun {
			fmt.Fprintf(out, "  WRITE %s -> %s\n", hdr.Name, dest)
			result.FilesRestored++
			continue
		}

		if err := extractFile(ar, os.FileMode(hdr.Mode), dest); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to restore %s: %v", hdr.Name, err))
			result.FilesSkipped++
			continue
		}
		result.FilesRestored++
	}

	if opts.DryRun {
		fmt.Fprintf(out, "\nWould restore %d files, skip %d files\n", result.FilesRestored, result.FilesSkipped)
	}
	return result, nil
}

func confirm(in io.Reader, out io.Writer, m *BackupManifest) bool {
	if in == nil {
		in = os.Stdin
	}
	fmt.Fprintln(out, "WARNING: The bot should be stopped before restoring a backup.")
	fmt.Fprintln(out, "This will overwrite existing files at the target locations.")
	fmt.Fprintf(out, "Backup from: %s (version %s)\n", m.Timestamp.Format("2006-01-02 15:04:05 UTC"), m.AppVersion)
	fmt.Fprintf(out, "Components: %s\n", m.Components)
	fmt.Fprint(out, "\nContinue? [y/N] ")

	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

// mapEntryToDestination determines the on-disk path for a tar entry.
// Returns (path, skip). Empty path with skip=false means ignore silently.
func mapEntryToDestination(name string, m *BackupManifest, opts RestoreOptions) (string, bool, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("unsafe entry %q", name)
	}

	switch {
	case clean == manifestName:
		return "", false, nil

	case strings.HasPrefix(clean, "config/"):
		if opts.SkipConfig {
			return "", true, nil
		}
		if opts.ConfigPath != "" {
			return opts.ConfigPath, false, nil
		}
		return m.OriginalPaths.Config, false, nil

	case strings.HasPrefix(clean, "secrets/"):
		if opts.SkipConfig || m.OriginalPaths.SecretsFile == "" {
			return "", true, nil
		}
		return m.OriginalPaths.SecretsFile, false, nil

	case strings.HasPrefix(clean, "storage/"):
		rel := strings.TrimPrefix(clean, "storage/")
		root := m.OriginalPaths.StorageRoot
		if opts.StoragePath != "" {
			root = opts.StoragePath
		}
		return filepath.Join(root, filepath.FromSlash(rel)), false, nil

	default:
		return "", false, nil
	}
}

// extractFile writes a tar entry to disk, creating parent directories as needed.
func extractFile(r io.Reader, mode os.FileMode, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if mode == 0 {
		mode = 0644
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readManifestFromArchive opens the archive and extracts manifest.json.
func readManifestFromArchive(archivePath string) (*BackupManifest, error) {
	ar, err := openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Name == manifestName {
			data, err := io.ReadAll(ar)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			return UnmarshalManifest(data)
		}
	}

	return nil, fmt.Errorf("%s not found in archive", manifestName)
}
