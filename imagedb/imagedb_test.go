package imagedb

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"dupeguard/imagedb/fingerprint"
	"dupeguard/imagedb/internal/mathutil"
	"dupeguard/imagedb/storage"
)

// meta is the metadata used by the tests.
type meta struct {
	Name string `json:"file_name"`
}

func (m meta) FileName() string { return m.Name }

// tableHasher maps the gray value of an image's first pixel to a
// predefined fingerprint, so tests control exact distances.
type tableHasher struct {
	table map[uint8]fingerprint.Fingerprint
}

func (h tableHasher) Name() string { return "table" }

func (h tableHasher) Compute(img image.Image) (fingerprint.Fingerprint, error) {
	id := color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y
	fp, ok := h.table[id]
	if !ok {
		return nil, errors.New("no fingerprint for image")
	}
	return fp, nil
}

func (h tableHasher) Distance(a, b fingerprint.Fingerprint) float64 {
	return mathutil.L1Distance(a, b)
}

// pic returns a 1x1 PNG whose gray value identifies it to tableHasher.
func pic(t testing.TB, id uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: id})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// gradientPNG returns a 64x64 horizontal gradient for tests that use the
// real perceptual hasher.
func gradientPNG(t testing.TB) []byte {
	t.Helper()
	im := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			im.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, im))
	return buf.Bytes()
}

func img(t testing.TB, id uint8, name string) storage.Image[meta] {
	return storage.NewImage(pic(t, id), meta{Name: name})
}

func testConfig(threshold float64, table map[uint8]fingerprint.Fingerprint) Config {
	return Config{Hasher: tableHasher{table: table}, Threshold: threshold, Workers: 2}
}

// failingStore wraps Memory and fails on demand.
type failingStore struct {
	*storage.Memory[meta]
	saveErr error
	loadErr error
	closed  bool
}

func (s *failingStore) Save(ctx context.Context, img storage.Image[meta]) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Memory.Save(ctx, img)
}

func (s *failingStore) LoadAll(ctx context.Context) ([]storage.Image[meta], error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Memory.LoadAll(ctx)
}

func (s *failingStore) Close() error {
	s.closed = true
	return nil
}
