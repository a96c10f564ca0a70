package imagedb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dupeguard/imagedb/fingerprint"
	"dupeguard/imagedb/storage"
)

var registryTable = map[uint8]fingerprint.Fingerprint{
	1: {0},
	2: {0.3},
	3: {5},
}

// memoryOpener hands out one Memory store per key and counts opens.
type memoryOpener struct {
	mu     sync.Mutex
	stores map[string]*storage.Memory[meta]
	opens  atomic.Int32
	delay  time.Duration
	fail   atomic.Int32
}

func newMemoryOpener() *memoryOpener {
	return &memoryOpener{stores: make(map[string]*storage.Memory[meta])}
}

func (o *memoryOpener) open(ctx context.Context, key string) (storage.Storage[meta], error) {
	o.opens.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.fail.Load() > 0 {
		o.fail.Add(-1)
		return nil, errors.New("mount not ready")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[key]
	if !ok {
		s = storage.NewMemory[meta]()
		o.stores[key] = s
	}
	return s, nil
}

func TestRegistry_SubmitRoomScenario(t *testing.T) {
	ctx := context.Background()
	opener := newMemoryOpener()
	reg := NewRegistry(opener.open, testConfig(1.0, registryTable))
	defer reg.Close()

	c, err := reg.Submit(ctx, "room-1", img(t, 1, "img1.png"))
	require.NoError(t, err)
	assert.Equal(t, KindNew, c.Kind)

	c, err = reg.Submit(ctx, "room-1", img(t, 2, "img2.png"))
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyExists, c.Kind)
	assert.Equal(t, "img1.png", c.Match.Name)

	c, err = reg.Submit(ctx, "room-1", img(t, 3, "img3.png"))
	require.NoError(t, err)
	assert.Equal(t, KindNew, c.Kind)

	assert.Equal(t, map[string]int{"room-1": 2}, reg.Sizes())
}

func TestRegistry_PartitionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemoryOpener().open, testConfig(1.0, registryTable))

	_, err := reg.Submit(ctx, "room-1", img(t, 1, "a.png"))
	require.NoError(t, err)

	c, err := reg.Submit(ctx, "room-2", img(t, 1, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, KindNew, c.Kind, "another room has not seen the image")

	assert.ElementsMatch(t, []string{"room-1", "room-2"}, reg.Partitions())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_SingleConstruction(t *testing.T) {
	opener := newMemoryOpener()
	opener.delay = 20 * time.Millisecond
	reg := NewRegistry(opener.open, testConfig(1.0, registryTable))

	const n = 16
	results := make([]*Index[meta], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := reg.Resolve(context.Background(), "room")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = idx
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opener.opens.Load())
	for _, idx := range results {
		assert.Same(t, results[0], idx)
	}
}

func TestRegistry_FailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	opener := newMemoryOpener()
	opener.fail.Store(1)
	reg := NewRegistry(opener.open, testConfig(1.0, registryTable))

	_, err := reg.Resolve(ctx, "room")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 0, reg.Len())

	idx, err := reg.Resolve(ctx, "room")
	require.NoError(t, err)
	assert.NotNil(t, idx)
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestRegistry_RehydrationFailureClosesStore(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Memory: storage.NewMemory[meta](), loadErr: errors.New("bad disk")}
	reg := NewRegistry(func(context.Context, int64) (storage.Storage[meta], error) {
		return store, nil
	}, testConfig(1.0, registryTable))

	_, err := reg.Resolve(ctx, 42)
	assert.ErrorIs(t, err, ErrStorage)
	assert.True(t, store.closed)

	_, ok := reg.Loaded(42)
	assert.False(t, ok)
}

func TestRegistry_ResolveHonoursContext(t *testing.T) {
	opener := newMemoryOpener()
	opener.delay = 200 * time.Millisecond
	reg := NewRegistry(opener.open, testConfig(1.0, registryTable))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := reg.Resolve(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The build was not abandoned.
	require.Eventually(t, func() bool {
		_, ok := reg.Loaded("slow")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_KeysOfDifferentShapeStayApart(t *testing.T) {
	ctx := context.Background()
	var opened []string
	var mu sync.Mutex
	reg := NewRegistry(func(_ context.Context, key any) (storage.Storage[meta], error) {
		mu.Lock()
		opened = append(opened, fmt.Sprintf("%T", key))
		mu.Unlock()
		return storage.NewMemory[meta](), nil
	}, testConfig(1.0, registryTable))

	_, err := reg.Resolve(ctx, 1)
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, "1")
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.ElementsMatch(t, []string{"int", "string"}, opened)
}

func TestRegistry_Close(t *testing.T) {
	ctx := context.Background()
	var stores []*failingStore
	reg := NewRegistry(func(context.Context, int) (storage.Storage[meta], error) {
		s := &failingStore{Memory: storage.NewMemory[meta]()}
		stores = append(stores, s)
		return s, nil
	}, testConfig(1.0, registryTable))

	_, err := reg.Resolve(ctx, 1)
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	for _, s := range stores {
		assert.True(t, s.closed)
	}

	_, err = reg.Resolve(ctx, 3)
	assert.ErrorIs(t, err, ErrClosed)
}
