package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	const n = 5
	s1 := NewFile[testMeta](dir)
	for i := 0; i < n; i++ {
		img := NewImage([]byte(fmt.Sprintf("payload-%d", i)), testMeta{
			Name:  fmt.Sprintf("img-%d.jpg", i),
			Owner: int64(i),
		})
		require.NoError(t, s1.Save(ctx, img))
	}

	// A fresh adapter over the same directory sees everything.
	s2 := NewFile[testMeta](dir)
	loaded, err := s2.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, n)

	for i, img := range loaded {
		assert.Equal(t, fmt.Sprintf("img-%d.jpg", i), img.Metadata.Name)
		assert.Equal(t, int64(i), img.Metadata.Owner)
		assert.Equal(t, []byte(fmt.Sprintf("payload-%d", i)), img.Bytes)
	}
}

func TestFile_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFile[testMeta](dir)

	require.NoError(t, s.Save(ctx, NewImage([]byte("raw"), testMeta{Name: "abc.png", Owner: 3})))

	raw, err := os.ReadFile(filepath.Join(dir, "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), raw)

	sidecar, err := os.ReadFile(filepath.Join(dir, "abc.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"file_name":"abc.png","owner":3}`, string(sidecar))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files should remain")
}

func TestFile_MissingSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lonely.jpg"), []byte("x"), 0644))

	_, err := NewFile[testMeta](dir).LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrMissingSidecar)
}

func TestFile_CorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{not json"), 0644))

	_, err := NewFile[testMeta](dir).LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrCorruptSidecar)
}

func TestFile_UnreadableDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := NewFile[testMeta](dir).LoadAll(context.Background())
	assert.Error(t, err)
}

func TestFile_IgnoresOrphansAndTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFile[testMeta](dir)
	require.NoError(t, s.Save(ctx, NewImage([]byte("ok"), testMeta{Name: "ok.jpg"})))

	// An interrupted save: sidecar without image, plus a leftover temp file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.json"), []byte(`{"file_name":"orphan.jpg"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".orphan.jpg.123.tmp"), []byte("partial"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "ok.jpg", loaded[0].Metadata.Name)
}

func TestFile_NameConflict(t *testing.T) {
	ctx := context.Background()
	s := NewFile[testMeta](t.TempDir())

	require.NoError(t, s.Save(ctx, NewImage([]byte("jpg"), testMeta{Name: "a.jpg"})))
	err := s.Save(ctx, NewImage([]byte("png"), testMeta{Name: "a.png"}))
	assert.ErrorIs(t, err, ErrNameConflict)

	loaded, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []byte("jpg"), loaded[0].Bytes)
}

func TestFile_RejectsInvalidName(t *testing.T) {
	s := NewFile[testMeta](t.TempDir())
	err := s.Save(context.Background(), NewImage([]byte("x"), testMeta{Name: "../escape.jpg"}))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestFile_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewFile[testMeta](t.TempDir()).Save(ctx, NewImage([]byte("x"), testMeta{Name: "a.jpg"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile(".a.jpg.0f8e.tmp"))
	assert.False(t, IsTempFile("a.tmp"))
	assert.False(t, IsTempFile(".a.jpg"))
}
