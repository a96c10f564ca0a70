package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// SidecarExt is the extension of the metadata record stored next to each image.
const SidecarExt = ".json"

// Common errors
var (
	ErrInvalidName    = errors.New("storage: invalid file name")
	ErrNameConflict   = errors.New("storage: sidecar belongs to another image")
	ErrMissingSidecar = errors.New("storage: missing metadata sidecar")
	ErrCorruptSidecar = errors.New("storage: malformed metadata sidecar")
)

// Metadata is caller-owned data attached to a stored image.
// FileName must be unique within one partition; adapters use it as the
// object name.
type Metadata interface {
	comparable
	FileName() string
}

// Image is an encoded image together with its metadata.
type Image[T Metadata] struct {
	Bytes    []byte
	Metadata T
}

// NewImage creates an Image.
func NewImage[T Metadata](data []byte, meta T) Image[T] {
	return Image[T]{Bytes: data, Metadata: meta}
}

// clone returns a copy that shares no memory with img.
func (img Image[T]) clone() Image[T] {
	data := make([]byte, len(img.Bytes))
	copy(data, img.Bytes)
	return Image[T]{Bytes: data, Metadata: img.Metadata}
}

// Storage persists the images of one partition.
type Storage[T Metadata] interface {
	// Save durably stores the image keyed by its FileName.
	Save(ctx context.Context, img Image[T]) error

	// LoadAll returns every saved image. The order is stable for a
	// given store but otherwise unspecified.
	LoadAll(ctx context.Context) ([]Image[T], error)
}

// SidecarName returns the metadata record name for an image file name:
// the extension is replaced by SidecarExt ("abc.jpg" -> "abc.json").
func SidecarName(fileName string) string {
	return strings.TrimSuffix(fileName, path.Ext(fileName)) + SidecarExt
}

// IsSidecar reports whether name is a metadata record rather than an image.
func IsSidecar(name string) bool {
	return strings.EqualFold(path.Ext(name), SidecarExt)
}

// ValidateName checks that a file name can be used as a flat object name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is a hidden name", ErrInvalidName, name)
	case IsSidecar(name):
		return fmt.Errorf("%w: %q uses the reserved %s extension", ErrInvalidName, name, SidecarExt)
	}
	return nil
}
