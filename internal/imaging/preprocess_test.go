package imaging

import (
	"image"
	"image/color"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertUnitRange(t *testing.T, data []float32) {
	t.Helper()
	for i, v := range data {
		if v < 0 || v > 1 || math.IsNaN(float64(v)) {
			t.Fatalf("value %d out of range: %v", i, v)
		}
	}
}

func TestNormalize_ShapeAndRange(t *testing.T) {
	p := NewPreprocessor(0, nil)
	sizes := []image.Point{{1, 1}, {10, 300}, {224, 224}, {512, 384}, {33, 17}}

	for _, size := range sizes {
		out, err := p.Normalize(grayscaleScan(size.X, size.Y))
		require.NoError(t, err)
		require.NoError(t, out.CheckShape(224, 224, 3))
		assertUnitRange(t, out.Data)
	}
}

func TestNormalize_GrayscaleExpandsToRGB(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 50, 40))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 256)
	}

	out, err := NewPreprocessor(DefaultSize, nil).Normalize(src)
	require.NoError(t, err)
	require.Equal(t, 3, out.Channels)
	for i := 0; i < len(out.Data); i += 3 {
		require.Equal(t, out.Data[i], out.Data[i+1])
		require.Equal(t, out.Data[i], out.Data[i+2])
	}
}

func TestNormalize_RGBOrder(t *testing.T) {
	out, err := NewPreprocessor(DefaultSize, nil).Normalize(solidImage(8, 8, color.NRGBA{R: 255, G: 0, B: 51, A: 255}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Data[0], 1e-2)
	assert.InDelta(t, 0.0, out.Data[1], 1e-2)
	assert.InDelta(t, 0.2, out.Data[2], 1e-2)
}

func TestNormalize_WritesUniqueScratchFiles(t *testing.T) {
	scratch, err := NewScratchWriter(t.TempDir())
	require.NoError(t, err)
	p := NewPreprocessor(DefaultSize, scratch)

	for i := 0; i < 3; i++ {
		_, err := p.Normalize(grayscaleScan(30, 30))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(scratch.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestNormalize_ScratchFailureDoesNotFail(t *testing.T) {
	dir := t.TempDir()
	scratch, err := NewScratchWriter(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	out, err := NewPreprocessor(DefaultSize, scratch).Normalize(grayscaleScan(30, 30))
	require.NoError(t, err)
	assert.NoError(t, out.CheckShape(224, 224, 3))
}

func TestAdaptForModel(t *testing.T) {
	normalized, err := NewPreprocessor(DefaultSize, nil).Normalize(grayscaleScan(64, 64))
	require.NoError(t, err)

	for _, size := range []image.Point{{224, 224}, {299, 299}, {128, 96}, {1, 1}} {
		batch, err := AdaptForModel(normalized, size)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, int64(size.Y), int64(size.X), 3}, batch.Shape())
		assert.Len(t, batch.Data, size.X*size.Y*3)
		assertUnitRange(t, batch.Data)
	}
}

func TestAdaptForModel_DoesNotMutateInput(t *testing.T) {
	normalized, err := NewPreprocessor(DefaultSize, nil).Normalize(grayscaleScan(64, 64))
	require.NoError(t, err)
	normalized.Data[0] = float32(math.NaN())

	batch, err := AdaptForModel(normalized, image.Pt(224, 224))
	require.NoError(t, err)
	assert.Equal(t, float32(0), batch.Data[0])
	assert.True(t, math.IsNaN(float64(normalized.Data[0])))
}

func TestAdaptForModel_SanitizesNonFinite(t *testing.T) {
	in := Tensor{Height: 2, Width: 2, Channels: 3, Data: []float32{
		float32(math.NaN()), 0.5, float32(math.Inf(1)),
		0.1, float32(math.Inf(-1)), 0.2,
		0.3, 0.4, 0.5,
		0.6, 0.7, 0.8,
	}}

	batch, err := AdaptForModel(in, image.Pt(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 0, 0.1, 0, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}, batch.Data)
}

func TestAdaptForModel_SingleChannel(t *testing.T) {
	in := Tensor{Height: 4, Width: 4, Channels: 1, Data: make([]float32, 16)}
	for i := range in.Data {
		in.Data[i] = float32(i) / 16
	}

	batch, err := AdaptForModel(in, image.Pt(8, 8))
	require.NoError(t, err)
	assert.Equal(t, 3, batch.C)
	assert.Len(t, batch.Data, 8*8*3)
}

func TestAdaptForModel_Errors(t *testing.T) {
	ok := Tensor{Height: 2, Width: 2, Channels: 3, Data: make([]float32, 12)}
	_, err := AdaptForModel(ok, image.Pt(0, 10))
	assert.Error(t, err)

	bad := Tensor{Height: 2, Width: 2, Channels: 4, Data: make([]float32, 16)}
	_, err = AdaptForModel(bad, image.Pt(2, 2))
	assert.ErrorIs(t, err, ErrShape)
}

func TestBatch_NCHW(t *testing.T) {
	b := &Batch{N: 1, H: 1, W: 2, C: 3, Data: []float32{1, 2, 3, 4, 5, 6}}
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, b.NCHW())
}
