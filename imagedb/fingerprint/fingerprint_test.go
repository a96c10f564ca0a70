package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(horizontal bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := y
			if horizontal {
				v = x
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 4)})
		}
	}
	return img
}

// mirror flips img left to right.
func mirror(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(b.Max.X-1-(x-b.Min.X), y, img.At(x, y))
		}
	}
	return out
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(encodePNG(t, gradient(true)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, img.Bounds().Dx())

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(true), nil))
	_, format, err = Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDecode_Failures(t *testing.T) {
	inputs := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": encodePNG(t, gradient(true))[:20],
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestNewPerceptualHasher(t *testing.T) {
	for _, algo := range []Algorithm{"", PerceptionHash, DifferenceHash, AverageHash, "PHASH"} {
		h, err := NewPerceptualHasher(algo)
		require.NoError(t, err, algo)
		assert.NotEmpty(t, h.Name())
	}

	h, _ := NewPerceptualHasher("")
	assert.Equal(t, "phash", h.Name())

	_, err := NewPerceptualHasher("sift")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestPerceptualHasher_Distance(t *testing.T) {
	for _, algo := range []Algorithm{PerceptionHash, DifferenceHash, AverageHash} {
		t.Run(string(algo), func(t *testing.T) {
			h, err := NewPerceptualHasher(algo)
			require.NoError(t, err)

			a1, err := h.Compute(gradient(true))
			require.NoError(t, err)
			require.Len(t, a1, hashBits)

			// Same pixels through an encode/decode cycle.
			decoded, _, err := Decode(encodePNG(t, gradient(true)))
			require.NoError(t, err)
			a2, err := h.Compute(decoded)
			require.NoError(t, err)

			b, err := h.Compute(gradient(false))
			require.NoError(t, err)

			assert.Zero(t, h.Distance(a1, a2))
			assert.Equal(t, h.Distance(a1, b), h.Distance(b, a1))
			assert.GreaterOrEqual(t, h.Distance(a1, b), 0.0)
			assert.LessOrEqual(t, h.Distance(a1, b), float64(hashBits))
		})
	}
}

func TestPerceptualHasher_DistinguishesDirection(t *testing.T) {
	h, err := NewPerceptualHasher(DifferenceHash)
	require.NoError(t, err)

	// Every adjacent pair compares one way in a and the other way in b.
	a, err := h.Compute(gradient(true))
	require.NoError(t, err)
	b, err := h.Compute(mirror(gradient(true)))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, h.Distance(a, b), DefaultThreshold)
}

func TestPerceptualHasher_NilImage(t *testing.T) {
	h, _ := NewPerceptualHasher(PerceptionHash)
	_, err := h.Compute(nil)
	assert.ErrorIs(t, err, ErrDecode)
}
