package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// DefaultMaxDivergence is the largest summed inter-channel divergence, on
// the 0-255 scale, that still counts as a CT scan.
const DefaultMaxDivergence = 40.0

// DefaultMaxPixels caps the declared width×height of an image before it is
// decoded.
const DefaultMaxPixels = 40_000_000

// Validator is a best-effort filter that rejects true-color photos. CT scans
// are near-grayscale, so their color channels barely differ.
type Validator struct {
	MaxDivergence float64
	MaxPixels     int
}

func NewValidator(maxDivergence float64, maxPixels int) Validator {
	if maxDivergence <= 0 {
		maxDivergence = DefaultMaxDivergence
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return Validator{MaxDivergence: maxDivergence, MaxPixels: maxPixels}
}

// ChannelDivergence returns mean|B-G| + mean|G-R| over all pixels, using
// 8-bit channel values. ok is false for an empty image.
func ChannelDivergence(img image.Image) (divergence float64, ok bool) {
	bounds := img.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels <= 0 {
		return 0, false
	}

	var sumBG, sumGR float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r, g, b := int(c.R), int(c.G), int(c.B)
			sumBG += float64(abs(b - g))
			sumGR += float64(abs(g - r))
		}
	}
	n := float64(pixels)
	return sumBG/n + sumGR/n, true
}

// IsPlausibleCT reports whether img looks like a grayscale CT scan.
func (v Validator) IsPlausibleCT(img image.Image) bool {
	divergence, ok := ChannelDivergence(img)
	if !ok {
		return false
	}
	log.Debug().Float64("divergence", divergence).Float64("threshold", v.MaxDivergence).Msg("ct validation")
	return divergence <= v.MaxDivergence
}

// LoadScan decodes the file at path and validates it. A file that cannot be
// decoded, or declares more than MaxPixels pixels, is not a CT scan: ok is
// false and err is nil. err is only set when the file cannot be read.
func (v Validator) LoadScan(path string) (img image.Image, ok bool, err error) {
	img, err = DecodeFile(path, v.MaxPixels)
	if errors.Is(err, ErrDecode) {
		log.Debug().Err(err).Str("path", path).Msg("ct validation: decode failed")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return img, v.IsPlausibleCT(img), nil
}

// DecodeFile opens and decodes a JPEG or PNG image. The header is checked
// first; images declaring more than maxPixels pixels are rejected with
// ErrDecode without being decoded. maxPixels <= 0 disables the check.
func DecodeFile(path string, maxPixels int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
