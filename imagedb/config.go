package imagedb

import (
	"fmt"
	"runtime"

	"dupeguard/imagedb/fingerprint"
)

// Config controls how an Index fingerprints and classifies images.
type Config struct {
	// Hasher computes fingerprints. Nil selects the default perceptual hash.
	Hasher fingerprint.Hasher

	// Threshold is the duplicate threshold: a submission whose nearest
	// neighbour is strictly closer than Threshold is a duplicate.
	Threshold float64

	// Workers bounds parallel decoding during rehydration.
	// Zero means GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the pHash hasher paired with its calibrated threshold.
func DefaultConfig() Config {
	h, _ := fingerprint.NewPerceptualHasher(fingerprint.PerceptionHash)
	return Config{
		Hasher:    h,
		Threshold: fingerprint.DefaultThreshold,
	}
}

func (c Config) withDefaults() (Config, error) {
	if c.Threshold < 0 {
		return c, fmt.Errorf("%w: negative threshold %v", ErrInvalidConfig, c.Threshold)
	}
	if c.Workers < 0 {
		return c, fmt.Errorf("%w: negative workers %d", ErrInvalidConfig, c.Workers)
	}
	if c.Hasher == nil {
		c.Hasher = DefaultConfig().Hasher
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c, nil
}
