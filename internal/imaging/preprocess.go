package imaging

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

// DefaultSize is the side of the square image every model is trained on.
const DefaultSize = 224

// Preprocessor turns decoded scans into model input. Normalize runs once per
// request; AdaptForModel runs once per model so each model can ask for its
// own resolution without decoding the source again.
type Preprocessor struct {
	Size    int
	Scratch *ScratchWriter
}

func NewPreprocessor(size int, scratch *ScratchWriter) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{Size: size, Scratch: scratch}
}

// Normalize resizes img to Size×Size, converts it to RGB floats in [0,1] and
// returns a Size×Size×3 tensor. Resizing happens before color conversion,
// matching the order the models were trained with.
func (p *Preprocessor) Normalize(img image.Image) (Tensor, error) {
	size := uint(p.Size)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	t := expandChannels(tensorFromImage(resized))
	if err := t.CheckShape(p.Size, p.Size, 3); err != nil {
		return Tensor{}, fmt.Errorf("normalize: %w", err)
	}

	if p.Scratch != nil {
		if path, err := p.Scratch.Write(t); err != nil {
			log.Warn().Err(err).Msg("failed to persist normalized image")
		} else {
			log.Debug().Str("path", path).Msg("normalized image persisted")
		}
	}
	return t, nil
}

// AdaptForModel resizes a normalized tensor to size (width×height) and adds
// a batch dimension of 1.
func AdaptForModel(t Tensor, size image.Point) (*Batch, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("adapt: invalid target size %dx%d", size.X, size.Y)
	}
	if t.Channels != 1 && t.Channels != 3 {
		return nil, fmt.Errorf("adapt: %w: %d channels", ErrShape, t.Channels)
	}

	if t.Width != size.X || t.Height != size.Y {
		resized := resize.Resize(uint(size.X), uint(size.Y), t.toImage(), resize.Bilinear)
		t = tensorFromImage(resized)
	} else {
		data := make([]float32, len(t.Data))
		copy(data, t.Data)
		t.Data = data
	}

	t = expandChannels(t)
	if t.Channels != 3 {
		return nil, fmt.Errorf("adapt: %w: %d channels before model", ErrShape, t.Channels)
	}
	sanitize(t.Data)

	return &Batch{N: 1, H: t.Height, W: t.Width, C: t.Channels, Data: t.Data}, nil
}
