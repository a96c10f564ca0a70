package backup

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/klauspost/compress/gzip"
)

// archiveReader is an open .tar.gz archive.
type archiveReader struct {
	*tar.Reader
	file *os.File
	gz   *gzip.Reader
}

func openArchive(path string) (*archiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	return &archiveReader{Reader: tar.NewReader(gr), file: f, gz: gr}, nil
}

func (a *archiveReader) Close() error {
	a.gz.Close()
	return a.file.Close()
}

// ListBackup inspects a backup archive and returns its contents.
func ListBackup(opts ListOptions) (*ListResult, error) {
	ar, err := openArchive(opts.BackupPath)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	result := &ListResult{}
	var manifestFound bool

	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		if hdr.Name == manifestName {
			data, err := io.ReadAll(ar)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			m, err := UnmarshalManifest(data)
			if err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
			result.Manifest = *m
			manifestFound = true
		}

		result.Files = append(result.Files, FileEntry{
			Path: hdr.Name,
			Size: hdr.Size,
			Mode: fmt.Sprintf("%04o", hdr.Mode),
		})
	}

	if !manifestFound {
		return nil, fmt.Errorf("%s not found in archive", manifestName)
	}

	return result, nil
}

// PrintListResult outputs the listing in human-readable or JSON format.
func PrintListResult(w io.Writer, result *ListResult, opts ListOptions) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	m := result.Manifest
	fmt.Fprintf(w, "Backup: %s\n", opts.BackupPath)
	fmt.Fprintf(w, "Created: %s\n", m.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(w, "Version: %s\n", m.AppVersion)
	fmt.Fprintf(w, "Components: %s\n", m.Components)
	fmt.Fprintf(w, "Backend: %s\n", m.Backend)
	fmt.Fprintf(w, "Partitions: %d\n", m.StorageInfo.Partitions)
	fmt.Fprintf(w, "Images: %d (%s)\n", m.StorageInfo.Images, formatBytes(m.StorageInfo.Size))
	fmt.Fprintf(w, "Files: %d\n", len(result.Files))

	if opts.Verbose {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODE\tSIZE\tPATH")
		fmt.Fprintln(tw, "----\t----\t----")
		for _, f := range result.Files {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Mode, formatBytes(f.Size), f.Path)
		}
		tw.Flush()
	}

	return nil
}

func formatBytes(b int64) string {
	switch {
	case b >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(b)/(1024*1024*1024))
	case b >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
