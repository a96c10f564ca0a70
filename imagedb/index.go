// Package imagedb classifies images as new or near-duplicates of images
// already seen in the same partition.
//
// An Index holds the fingerprints of one partition and replays its storage
// when it is created. A Registry maps partition keys to indexes and builds
// each one at most once.
package imagedb

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"dupeguard/imagedb/fingerprint"
	"dupeguard/imagedb/storage"
)

type entry[T storage.Metadata] struct {
	fp   fingerprint.Fingerprint
	meta T
}

// Index is the fingerprint collection of one partition. Entries are only
// ever appended; their order decides ties between equally near neighbours.
type Index[T storage.Metadata] struct {
	store     storage.Storage[T]
	hasher    fingerprint.Hasher
	threshold float64

	mu      sync.Mutex
	entries []entry[T]
	closed  bool
}

// NewIndex loads every image from store and fingerprints it. The index is
// returned only if every stored image was rehydrated.
func NewIndex[T storage.Metadata](ctx context.Context, store storage.Storage[T], cfg Config) (*Index[T], error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, &Error{Op: "new", Err: err}
	}

	idx := &Index[T]{
		store:     store,
		hasher:    cfg.Hasher,
		threshold: cfg.Threshold,
	}
	if err := idx.rehydrate(ctx, cfg.Workers); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index[T]) rehydrate(ctx context.Context, workers int) error {
	images, err := idx.store.LoadAll(ctx)
	if err != nil {
		return wrapError("rehydrate", ErrStorage, err)
	}

	fps := make([]fingerprint.Fingerprint, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := idx.fingerprint(img.Bytes)
			if err != nil {
				return &Error{Op: "rehydrate " + img.Metadata.FileName(), Err: err}
			}
			fps[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	idx.entries = make([]entry[T], len(images))
	for i, img := range images {
		idx.entries[i] = entry[T]{fp: fps[i], meta: img.Metadata}
	}
	return nil
}

func (idx *Index[T]) fingerprint(data []byte) (fingerprint.Fingerprint, error) {
	img, _, err := fingerprint.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	fp, err := idx.hasher.Compute(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return fp, nil
}

// nearest returns the closest entry. Ties keep the earliest entry. Callers
// hold idx.mu.
func (idx *Index[T]) nearest(fp fingerprint.Fingerprint) (T, float64, bool) {
	var match T
	best := math.Inf(1)
	found := false
	for _, e := range idx.entries {
		if d := idx.hasher.Distance(fp, e.fp); d < best {
			best, match, found = d, e.meta, true
		}
	}
	return match, best, found
}

// Submit classifies img against the partition. A new image is saved and
// appended before Submit returns; a duplicate is discarded. Decode failures
// match ErrDecode and save failures match ErrStorage; in both cases the
// index is unchanged.
func (idx *Index[T]) Submit(ctx context.Context, img storage.Image[T]) (Classification[T], error) {
	fp, err := idx.fingerprint(img.Bytes)
	if err != nil {
		return Classification[T]{}, &Error{Op: "submit", Err: err}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return Classification[T]{}, &Error{Op: "submit", Err: ErrClosed}
	}

	if match, d, ok := idx.nearest(fp); ok && d < idx.threshold {
		return existing(match), nil
	}

	if err := ctx.Err(); err != nil {
		return Classification[T]{}, &Error{Op: "submit", Err: err}
	}
	// A started write runs to completion so the store and the entries agree.
	if err := idx.store.Save(context.WithoutCancel(ctx), img); err != nil {
		return Classification[T]{}, wrapError("submit", ErrStorage, err)
	}
	idx.entries = append(idx.entries, entry[T]{fp: fp, meta: img.Metadata})
	return newClassification[T](), nil
}

// Match is the result of a Lookup.
type Match[T storage.Metadata] struct {
	Classification[T]
	// Nearest is the metadata of the closest entry, even above the threshold.
	Nearest T
	// Distance to Nearest; +Inf for an empty index.
	Distance float64
}

// Lookup classifies data without storing it.
func (idx *Index[T]) Lookup(data []byte) (Match[T], error) {
	fp, err := idx.fingerprint(data)
	if err != nil {
		return Match[T]{}, &Error{Op: "lookup", Err: err}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	nearest, d, ok := idx.nearest(fp)
	m := Match[T]{Classification: newClassification[T](), Nearest: nearest, Distance: d}
	if ok && d < idx.threshold {
		m.Classification = existing(nearest)
	}
	return m, nil
}

// Len returns the number of indexed images.
func (idx *Index[T]) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// Threshold returns the duplicate threshold.
func (idx *Index[T]) Threshold() float64 { return idx.threshold }

// Close rejects further submissions and closes the store if it holds
// resources.
func (idx *Index[T]) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	if c, ok := idx.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
