package pixelmix_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"slices"
	"testing"

	"github.com/dunamismax/pixelmix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicOperationsOnValidImage(t *testing.T) {
	src := testImage(12, 8)
	input := encode(t, src)

	quality := decode(t, pixelmix.QualityImage(input, 2))
	assert.Equal(t, src.Pix, quality.Pix)

	mixed := decode(t, pixelmix.MixImage(input, 9))
	assert.Equal(t, 1, diffPixels(src, mixed))

	processed := decode(t, pixelmix.ProcessImage(input, true, pixelmix.FlipVertical, false, true, 5, false))
	for x := 0; x < 12; x++ {
		assert.Equal(t, src.NRGBAAt(x, 0), processed.NRGBAAt(x, 7))
	}
	assert.Equal(t, "image/png", pixelmix.DetectMIME(pixelmix.QualityImage(input, 5)))
}

func TestPublicOperationsPassThroughGarbage(t *testing.T) {
	input := []byte("GIF89a but not really")

	assert.Equal(t, input, pixelmix.QualityImage(input, 0))
	assert.Equal(t, input, pixelmix.MixImage(input, 10))
	assert.Equal(t, input, pixelmix.ProcessImage(input, true, pixelmix.FlipBoth, true, true, 7, true))
}

func TestEngineStrictReportsFailures(t *testing.T) {
	input := []byte("nope")

	lenient := pixelmix.New()
	out, err := lenient.Quality(input, 5)
	require.NoError(t, err)
	assert.Equal(t, input, out)

	strict := pixelmix.New(pixelmix.WithStrict(true))
	require.True(t, strict.Strict())
	_, err = strict.Mix(input, 5)
	assert.ErrorIs(t, err, pixelmix.ErrDecode)
}

func TestEngineSeedIsReproducible(t *testing.T) {
	input := encode(t, testImage(64, 64))

	a, err := pixelmix.New(pixelmix.WithSeed(99)).Mix(input, 5)
	require.NoError(t, err)
	b, err := pixelmix.New(pixelmix.WithSeed(99)).Mix(input, 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, pixelmix.New(pixelmix.WithSeed(3)).Shuffle(20), pixelmix.New(pixelmix.WithSeed(3)).Shuffle(20))
}

func TestShuffleIndices(t *testing.T) {
	assert.Equal(t, []int{}, pixelmix.ShuffleIndices(0))
	assert.Equal(t, []int{0}, pixelmix.ShuffleIndices(1))

	for trial := 0; trial < 200; trial++ {
		got := pixelmix.ShuffleIndices(10)
		sorted := slices.Clone(got)
		slices.Sort(sorted)
		require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sorted)
	}
}

func TestResolveTierBoundaries(t *testing.T) {
	assert.Equal(t, pixelmix.TierFast, pixelmix.ResolveTier(0))
	assert.Equal(t, pixelmix.TierFast, pixelmix.ResolveTier(3))
	assert.Equal(t, pixelmix.TierDefault, pixelmix.ResolveTier(4))
	assert.Equal(t, pixelmix.TierDefault, pixelmix.ResolveTier(6))
	assert.Equal(t, pixelmix.TierBest, pixelmix.ResolveTier(7))
	assert.Equal(t, pixelmix.TierBest, pixelmix.ResolveTier(10))
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 30), B: 90, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok, "expected NRGBA, got %T", img)
	return nrgba
}

func diffPixels(a, b *image.NRGBA) int {
	n := 0
	for i := 0; i < len(a.Pix); i += 4 {
		if !bytes.Equal(a.Pix[i:i+4], b.Pix[i:i+4]) {
			n++
		}
	}
	return n
}
