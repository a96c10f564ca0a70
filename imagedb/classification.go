package imagedb

import "dupeguard/imagedb/storage"

// Kind is the outcome of a submission.
type Kind int

const (
	// KindNew means no stored image was close enough; the image was stored.
	KindNew Kind = iota
	// KindAlreadyExists means a stored image is within the threshold.
	KindAlreadyExists
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Classification is the result of Submit. Match is only set for
// KindAlreadyExists and holds the metadata of the nearest stored image.
type Classification[T storage.Metadata] struct {
	Kind  Kind
	Match T
}

// IsDuplicate reports whether the submission matched a stored image.
func (c Classification[T]) IsDuplicate() bool {
	return c.Kind == KindAlreadyExists
}

func newClassification[T storage.Metadata]() Classification[T] {
	return Classification[T]{Kind: KindNew}
}

func existing[T storage.Metadata](match T) Classification[T] {
	return Classification[T]{Kind: KindAlreadyExists, Match: match}
}
