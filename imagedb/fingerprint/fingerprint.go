// Package fingerprint turns decoded images into perceptual fingerprints and
// measures how far apart two fingerprints are.
package fingerprint

import (
	"errors"
	"image"
)

var (
	// ErrDecode is returned when image bytes cannot be turned into pixels.
	ErrDecode = errors.New("fingerprint: cannot decode image")

	// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("fingerprint: unknown algorithm")
)

// Fingerprint is a fixed-length feature vector. Values produced by a Hasher
// must not be modified.
type Fingerprint []float64

// Hasher computes fingerprints and the distance between them.
//
// Implementations must be deterministic and safe for concurrent use.
// Distance must be non-negative, symmetric and zero for fingerprints of the
// same pixels.
type Hasher interface {
	Name() string
	Compute(img image.Image) (Fingerprint, error)
	Distance(a, b Fingerprint) float64
}
