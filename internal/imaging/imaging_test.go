package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// grayscaleScan mimics a CT slice: a gradient with identical channels and a
// small tint on some pixels.
func grayscaleScan(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x*7 + y*3) % 256)
			tint := uint8(0)
			if (x+y)%5 == 0 && v < 250 {
				tint = 5
			}
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v + tint, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// writeOversizedPNG writes a tiny PNG whose header claims width×height
// pixels. Only the header is valid; decoding the pixel data would fail.
func writeOversizedPNG(t *testing.T, width, height uint32) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()
	// signature (8) | length (4) | "IHDR" (4) | width (4) | height (4) | ... | crc
	binary.BigEndian.PutUint32(b[16:20], width)
	binary.BigEndian.PutUint32(b[20:24], height)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))

	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}
