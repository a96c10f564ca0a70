package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tempSuffix = ".tmp"

// File is a directory-backed storage implementation. Each image is written
// as two files: the raw bytes under its FileName and the JSON-encoded
// metadata under SidecarName(FileName).
type File[T Metadata] struct {
	dir string
}

// NewFile creates a storage rooted at dir. The directory must exist.
func NewFile[T Metadata](dir string) *File[T] {
	return &File[T]{dir: dir}
}

// Dir returns the backing directory.
func (f *File[T]) Dir() string { return f.dir }

// Save writes the metadata sidecar and then the image bytes. Both writes go
// through a temporary file and a rename, so a crash never leaves a partial
// image behind. An interrupted save leaves at most an orphan sidecar, which
// LoadAll ignores.
func (f *File[T]) Save(ctx context.Context, img Image[T]) error {
	name := img.Metadata.FileName()
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(img.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", name, err)
	}

	sidecar := SidecarName(name)
	if err := f.checkConflict(name, sidecar); err != nil {
		return err
	}
	if err := writeFileAtomic(f.dir, sidecar, metaJSON); err != nil {
		return fmt.Errorf("failed to write %s: %w", sidecar, err)
	}
	if err := writeFileAtomic(f.dir, name, img.Bytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// checkConflict refuses to overwrite a sidecar that describes a different
// image ("a.jpg" and "a.png" share "a.json").
func (f *File[T]) checkConflict(name, sidecar string) error {
	data, err := os.ReadFile(filepath.Join(f.dir, sidecar))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", sidecar, err)
	}
	var existing T
	if err := json.Unmarshal(data, &existing); err != nil {
		// A torn sidecar from an interrupted save is safe to replace.
		return nil
	}
	if other := existing.FileName(); other != name {
		return fmt.Errorf("%w: %s is used by %s", ErrNameConflict, sidecar, other)
	}
	return nil
}

// LoadAll reads every image in the directory in lexical file name order.
// Sidecars, hidden files and subdirectories are not images.
func (f *File[T]) LoadAll(ctx context.Context) ([]Image[T], error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", f.dir, err)
	}

	var images []Image[T]
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || IsSidecar(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := f.load(name)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (f *File[T]) load(name string) (Image[T], error) {
	var img Image[T]

	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return img, fmt.Errorf("failed to read %s: %w", name, err)
	}

	sidecar := SidecarName(name)
	metaJSON, err := os.ReadFile(filepath.Join(f.dir, sidecar))
	if errors.Is(err, fs.ErrNotExist) {
		return img, fmt.Errorf("%w: %s has no %s", ErrMissingSidecar, name, sidecar)
	}
	if err != nil {
		return img, fmt.Errorf("failed to read %s: %w", sidecar, err)
	}

	var meta T
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return img, fmt.Errorf("%w: %s: %v", ErrCorruptSidecar, sidecar, err)
	}
	return NewImage(data, meta), nil
}

// IsTempFile reports whether name is an in-flight write left by Save.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// writeFileAtomic writes data to dir/name via a hidden temp file and rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp := filepath.Join(dir, "."+name+"."+uuid.NewString()+tempSuffix)

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
