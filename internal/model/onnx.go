package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Brownie44l1/lungscan-api/internal/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXModel serves one exported classifier. It uses a dynamic session so
// every call allocates its own tensors and concurrent requests can share
// the session.
type ONNXModel struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
}

// NewONNXModel loads the model at modelPath with the metadata at
// metadataPath. The ONNX environment must already be initialized.
func NewONNXModel(modelPath, metadataPath string) (*ONNXModel, error) {
	metadata, err := readMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:  session,
		Metadata: metadata,
	}, nil
}

func readMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	metadata.Layout = strings.ToLower(metadata.Layout)
	if metadata.Layout == "" {
		metadata.Layout = LayoutNHWC
	}
	if metadata.Layout != LayoutNHWC && metadata.Layout != LayoutNCHW {
		return Metadata{}, fmt.Errorf("unsupported layout %q", metadata.Layout)
	}
	if len(metadata.OutputShape) == 0 && len(metadata.Classes) > 0 {
		metadata.OutputShape = []int64{1, int64(len(metadata.Classes))}
	}
	if len(metadata.OutputShape) == 0 {
		return Metadata{}, fmt.Errorf("metadata %s declares neither output_shape nor classes", path)
	}
	return metadata, nil
}

// inputShape returns the shape fed to the session for batch, honouring the
// model's layout.
func (m *ONNXModel) inputShape(batch *imaging.Batch) []int64 {
	if m.Metadata.Layout == LayoutNCHW {
		return []int64{int64(batch.N), int64(batch.C), int64(batch.H), int64(batch.W)}
	}
	return batch.Shape()
}

func (m *ONNXModel) checkInputShape(shape []int64) error {
	if len(m.Metadata.InputShape) == 0 {
		return nil
	}
	if len(m.Metadata.InputShape) != len(shape) {
		return fmt.Errorf("expected input rank %d, got %d", len(m.Metadata.InputShape), len(shape))
	}
	for i, dim := range m.Metadata.InputShape {
		// Negative dimensions are dynamic.
		if dim >= 0 && dim != shape[i] {
			return fmt.Errorf("expected input shape %v, got %v", m.Metadata.InputShape, shape)
		}
	}
	return nil
}

func (m *ONNXModel) Infer(batch *imaging.Batch) ([]float32, error) {
	shape := m.inputShape(batch)
	if err := m.checkInputShape(shape); err != nil {
		return nil, err
	}

	data := batch.Data
	if m.Metadata.Layout == LayoutNCHW {
		data = batch.NCHW()
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(m.Metadata.OutputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return slices.Clone(outputTensor.GetData()), nil
}

func (m *ONNXModel) Close() error {
	if m.session != nil {
		return m.session.Destroy()
	}
	return nil
}
