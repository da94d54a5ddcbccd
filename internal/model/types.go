package model

import (
	"image"

	"github.com/Brownie44l1/lungscan-api/internal/imaging"
)

// Metadata describes an exported model. It is read from the JSON file that
// sits next to each .onnx artifact.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
}

const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// Inferer runs one forward pass on a batch of size 1 and returns the class
// probability vector.
type Inferer interface {
	Infer(batch *imaging.Batch) ([]float32, error)
}

// Entry binds a model name to its inferer and the input size it expects.
type Entry struct {
	Name  string
	Model Inferer
	Size  image.Point
}
