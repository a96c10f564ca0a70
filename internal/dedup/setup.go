package dedup

import (
	"context"
	"fmt"

	"dupeguard/imagedb"
	"dupeguard/imagedb/fingerprint"
	"dupeguard/internal/config"
)

// IndexConfig builds the index configuration from the fingerprint section.
func IndexConfig(fc config.FingerprintConfig) (imagedb.Config, error) {
	hasher, err := fingerprint.NewPerceptualHasher(fingerprint.Algorithm(fc.Algorithm))
	if err != nil {
		return imagedb.Config{}, err
	}
	return imagedb.Config{
		Hasher:    hasher,
		Threshold: fc.Threshold,
		Workers:   fc.RehydrateWorkers,
	}, nil
}

// New creates a Service for cfg. dataRoot resolves a relative storage path.
func New(ctx context.Context, cfg *config.Config, dataRoot string, recorder Recorder) (*Service, error) {
	icfg, err := IndexConfig(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint configuration: %w", err)
	}
	opener, err := NewOpener(ctx, cfg, cfg.StorageRoot(dataRoot))
	if err != nil {
		return nil, err
	}
	return NewService(imagedb.NewRegistry(opener, icfg), recorder), nil
}
