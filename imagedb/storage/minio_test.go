package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjects is an in-memory objectAPI.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjects) get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errObjectNotFound
	}
	return data, nil
}

func (f *fakeObjects) list(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func newTestMinIO(api objectAPI, prefix string) *MinIO[testMeta] {
	return &MinIO[testMeta]{api: api, prefix: prefix}
}

func TestMinIO_RoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()

	s := newTestMinIO(objects, "images/-100")
	require.NoError(t, s.Save(ctx, NewImage([]byte("b"), testMeta{Name: "b.jpg", Owner: 2})))
	require.NoError(t, s.Save(ctx, NewImage([]byte("a"), testMeta{Name: "a.png", Owner: 1})))

	assert.Contains(t, objects.objects, "images/-100/a.png")
	assert.Contains(t, objects.objects, "images/-100/a.json")

	loaded, err := newTestMinIO(objects, "images/-100").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a.png", loaded[0].Metadata.Name)
	assert.Equal(t, []byte("b"), loaded[1].Bytes)
}

func TestMinIO_PartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()

	require.NoError(t, newTestMinIO(objects, "images/1").Save(ctx, NewImage([]byte("x"), testMeta{Name: "x.jpg"})))
	require.NoError(t, newTestMinIO(objects, "images/10").Save(ctx, NewImage([]byte("y"), testMeta{Name: "y.jpg"})))

	loaded, err := newTestMinIO(objects, "images/1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "x.jpg", loaded[0].Metadata.Name)
}

func TestMinIO_MissingSidecar(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["p/lonely.jpg"] = []byte("x")

	_, err := newTestMinIO(objects, "p").LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrMissingSidecar)
}

func TestMinIO_CorruptSidecar(t *testing.T) {
	objects := newFakeObjects()
	objects.objects["p/a.jpg"] = []byte("x")
	objects.objects["p/a.json"] = []byte("nope")

	_, err := newTestMinIO(objects, "p").LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrCorruptSidecar)
}

func TestMinIO_SaveFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("bucket offline")

	err := newTestMinIO(objects, "p").Save(context.Background(), NewImage([]byte("x"), testMeta{Name: "a.jpg"}))
	assert.ErrorContains(t, err, "bucket offline")
}
