package fingerprint

import (
	"fmt"
	"image"
	"strings"

	"github.com/corona10/goimagehash"

	"dupeguard/imagedb/internal/mathutil"
)

// Algorithm names a goimagehash hash function.
type Algorithm string

const (
	PerceptionHash Algorithm = "phash"
	DifferenceHash Algorithm = "dhash"
	AverageHash    Algorithm = "ahash"
)

// DefaultThreshold is the duplicate threshold calibrated for the 64-bit
// hashes below: fewer than 10 differing bits is the same picture.
const DefaultThreshold = 10.0

const hashBits = 64

// PerceptualHasher fingerprints images with a 64-bit perceptual hash. The
// fingerprint holds one 0/1 element per hash bit, so the L1 distance between
// two fingerprints is their Hamming distance.
type PerceptualHasher struct {
	algo Algorithm
	hash func(image.Image) (*goimagehash.ImageHash, error)
}

// NewPerceptualHasher returns a hasher for the named algorithm. An empty name
// selects PerceptionHash.
func NewPerceptualHasher(algo Algorithm) (*PerceptualHasher, error) {
	h := &PerceptualHasher{algo: Algorithm(strings.ToLower(string(algo)))}
	switch h.algo {
	case "", PerceptionHash:
		h.algo = PerceptionHash
		h.hash = goimagehash.PerceptionHash
	case DifferenceHash:
		h.hash = goimagehash.DifferenceHash
	case AverageHash:
		h.hash = goimagehash.AverageHash
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	return h, nil
}

// Name returns the algorithm name.
func (h *PerceptualHasher) Name() string { return string(h.algo) }

// Compute hashes img.
func (h *PerceptualHasher) Compute(img image.Image) (Fingerprint, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	hash, err := h.hash(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.algo, err)
	}
	return Fingerprint(mathutil.UnpackBits(hash.GetHash(), hashBits)), nil
}

// Distance returns the number of differing bits.
func (h *PerceptualHasher) Distance(a, b Fingerprint) float64 {
	return mathutil.L1Distance(a, b)
}
