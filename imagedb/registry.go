package imagedb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"dupeguard/imagedb/storage"
)

// Opener returns the storage of one partition. Distinct keys must yield
// distinct storage locations.
type Opener[K comparable, T storage.Metadata] func(ctx context.Context, key K) (storage.Storage[T], error)

// Registry lazily creates one Index per partition key.
//
// Lookups of existing partitions share a read lock. Concurrent Resolve calls
// for an unseen key build a single index; a failed build is not remembered,
// so the next call retries.
type Registry[K comparable, T storage.Metadata] struct {
	open Opener[K, T]
	cfg  Config

	mu      sync.RWMutex
	indexes map[K]*Index[T]
	closed  bool

	group singleflight.Group
}

// NewRegistry creates an empty registry. Every index uses cfg.
func NewRegistry[K comparable, T storage.Metadata](open Opener[K, T], cfg Config) *Registry[K, T] {
	return &Registry[K, T]{
		open:    open,
		cfg:     cfg,
		indexes: make(map[K]*Index[T]),
	}
}

func (r *Registry[K, T]) get(key K) (*Index[T], bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, false, &Error{Op: "resolve", Err: ErrClosed}
	}
	idx, ok := r.indexes[key]
	return idx, ok, nil
}

// Resolve returns the index for key, building it on first use. If ctx ends
// while another caller is building the index, Resolve returns early and the
// build continues for the other waiters.
func (r *Registry[K, T]) Resolve(ctx context.Context, key K) (*Index[T], error) {
	if idx, ok, err := r.get(key); ok || err != nil {
		return idx, err
	}

	// %#v keeps keys of different types or quoting apart ("1" vs 1).
	ch := r.group.DoChan(fmt.Sprintf("%#v", key), func() (any, error) {
		return r.build(context.WithoutCancel(ctx), key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index[T]), nil
	case <-ctx.Done():
		return nil, &Error{Op: "resolve", Err: ctx.Err()}
	}
}

func (r *Registry[K, T]) build(ctx context.Context, key K) (*Index[T], error) {
	// A flight that finished just before ours may have installed it.
	if idx, ok, err := r.get(key); ok || err != nil {
		return idx, err
	}

	store, err := r.open(ctx, key)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("open %v", key), ErrStorage, err)
	}

	idx, err := NewIndex(ctx, store, r.cfg)
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		idx.Close()
		return nil, &Error{Op: "resolve", Err: ErrClosed}
	}
	r.indexes[key] = idx
	return idx, nil
}

// Submit resolves the partition and submits img to it.
func (r *Registry[K, T]) Submit(ctx context.Context, key K, img storage.Image[T]) (Classification[T], error) {
	idx, err := r.Resolve(ctx, key)
	if err != nil {
		return Classification[T]{}, err
	}
	return idx.Submit(ctx, img)
}

// Loaded returns the index for key if it has already been built.
func (r *Registry[K, T]) Loaded(key K) (*Index[T], bool) {
	idx, ok, _ := r.get(key)
	return idx, ok
}

// Partitions returns the keys of all built indexes in no particular order.
func (r *Registry[K, T]) Partitions() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.indexes))
	for k := range r.indexes {
		keys = append(keys, k)
	}
	return keys
}

// Sizes returns the entry count of every built index.
func (r *Registry[K, T]) Sizes() map[K]int {
	r.mu.RLock()
	indexes := make(map[K]*Index[T], len(r.indexes))
	for k, idx := range r.indexes {
		indexes[k] = idx
	}
	r.mu.RUnlock()

	sizes := make(map[K]int, len(indexes))
	for k, idx := range indexes {
		sizes[k] = idx.Len()
	}
	return sizes
}

// Len returns the number of built indexes.
func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indexes)
}

// Close closes every index. Later calls to Resolve fail with ErrClosed.
func (r *Registry[K, T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, idx := range r.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
