package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

var (
	// ErrShape is returned when a tensor does not have the shape a stage requires.
	ErrShape = errors.New("unexpected tensor shape")
	// ErrDecode is returned when an input file cannot be decoded as an image.
	ErrDecode = errors.New("invalid image")
)

// Tensor is a single image in height, width, channel order with values in [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Batch is a tensor with a leading batch dimension, laid out as NHWC.
type Batch struct {
	N, H, W, C int
	Data       []float32
}

// Shape returns the batch dimensions as ONNX-style int64s.
func (b *Batch) Shape() []int64 {
	return []int64{int64(b.N), int64(b.H), int64(b.W), int64(b.C)}
}

// NCHW returns a channel-first copy of the batch data.
func (b *Batch) NCHW() []float32 {
	out := make([]float32, len(b.Data))
	plane := b.H * b.W
	for n := 0; n < b.N; n++ {
		base := n * plane * b.C
		for y := 0; y < b.H; y++ {
			for x := 0; x < b.W; x++ {
				pixelIndex := y*b.W + x
				for c := 0; c < b.C; c++ {
					out[base+c*plane+pixelIndex] = b.Data[base+pixelIndex*b.C+c]
				}
			}
		}
	}
	return out
}

func (t Tensor) at(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// CheckShape verifies the tensor is exactly height×width×channels.
func (t Tensor) CheckShape(height, width, channels int) error {
	if t.Height != height || t.Width != width || t.Channels != channels ||
		len(t.Data) != height*width*channels {
		return fmt.Errorf("%w: got (%d,%d,%d), want (%d,%d,%d)",
			ErrShape, t.Height, t.Width, t.Channels, height, width, channels)
	}
	return nil
}

// expandChannels replicates a single-channel tensor into three channels.
// Tensors with any other channel count are returned unchanged.
func expandChannels(t Tensor) Tensor {
	if t.Channels != 1 {
		return t
	}
	out := Tensor{Height: t.Height, Width: t.Width, Channels: 3, Data: make([]float32, len(t.Data)*3)}
	for i, v := range t.Data {
		out.Data[i*3] = v
		out.Data[i*3+1] = v
		out.Data[i*3+2] = v
	}
	return out
}

// sanitize replaces NaN and infinite values with zero in place.
func sanitize(data []float32) {
	for i, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			data[i] = 0
		}
	}
}

func isGray(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}

// tensorFromImage converts img into a tensor scaled to [0,1]. Grayscale
// images produce a single channel; everything else produces RGB.
func tensorFromImage(img image.Image) Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if isGray(img.ColorModel()) {
		t := Tensor{Height: height, Width: width, Channels: 1, Data: make([]float32, width*height)}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				t.Data[y*width+x] = float32(g.Y) / 65535.0
			}
		}
		return t
	}

	t := Tensor{Height: height, Width: width, Channels: 3, Data: make([]float32, width*height*3)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			pixelIndex := (y*width + x) * 3
			t.Data[pixelIndex] = float32(c.R) / 65535.0
			t.Data[pixelIndex+1] = float32(c.G) / 65535.0
			t.Data[pixelIndex+2] = float32(c.B) / 65535.0
		}
	}
	return t
}

func toUint16(v float32) uint16 {
	f := float64(v)
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 1 {
		return 0xffff
	}
	return uint16(math.Round(f * 65535))
}

// toImage renders a 1- or 3-channel tensor as a 16-bit image so it can be
// resized or encoded.
func (t Tensor) toImage() image.Image {
	rect := image.Rect(0, 0, t.Width, t.Height)
	if t.Channels == 1 {
		img := image.NewGray16(rect)
		for y := 0; y < t.Height; y++ {
			for x := 0; x < t.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: toUint16(t.at(y, x, 0))})
			}
		}
		return img
	}
	img := image.NewNRGBA64(rect)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: toUint16(t.at(y, x, 0)),
				G: toUint16(t.at(y, x, 1)),
				B: toUint16(t.at(y, x, 2)),
				A: 0xffff,
			})
		}
	}
	return img
}
