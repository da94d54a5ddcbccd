package model

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/lungscan-api/internal/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticModel struct {
	probs  []float32
	closed bool
}

func (m *staticModel) Infer(*imaging.Batch) ([]float32, error) {
	return m.probs, nil
}

func (m *staticModel) Close() error {
	m.closed = true
	return nil
}

func TestNewRegistry_KeepsOrder(t *testing.T) {
	entries := []Entry{
		{Name: "ResNet50", Model: &staticModel{}, Size: image.Pt(224, 224)},
		{Name: "VGG16", Model: &staticModel{}, Size: image.Pt(224, 224)},
		{Name: "InceptionV3", Model: &staticModel{}, Size: image.Pt(299, 299)},
	}

	r, err := NewRegistry(DefaultLabels, entries...)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"ResNet50", "VGG16", "InceptionV3"}, names)
	assert.Equal(t, DefaultLabels, r.Labels())
}

func TestNewRegistry_IsReadOnly(t *testing.T) {
	labels := []string{"a", "b"}
	entries := []Entry{{Name: "m", Model: &staticModel{}, Size: image.Pt(1, 1)}}

	r, err := NewRegistry(labels, entries...)
	require.NoError(t, err)

	labels[0] = "changed"
	entries[0].Name = "changed"
	r.Entries()[0].Name = "changed"
	r.Labels()[1] = "changed"

	assert.Equal(t, []string{"a", "b"}, r.Labels())
	assert.Equal(t, "m", r.Entries()[0].Name)
}

func TestNewRegistry_Invalid(t *testing.T) {
	m := &staticModel{}
	tests := []struct {
		name    string
		labels  []string
		entries []Entry
	}{
		{"no labels", nil, []Entry{{Name: "a", Model: m, Size: image.Pt(1, 1)}}},
		{"no models", DefaultLabels, nil},
		{"empty name", DefaultLabels, []Entry{{Model: m, Size: image.Pt(1, 1)}}},
		{"duplicate", DefaultLabels, []Entry{
			{Name: "a", Model: m, Size: image.Pt(1, 1)},
			{Name: "a", Model: m, Size: image.Pt(1, 1)},
		}},
		{"nil model", DefaultLabels, []Entry{{Name: "a", Size: image.Pt(1, 1)}}},
		{"bad size", DefaultLabels, []Entry{{Name: "a", Model: m, Size: image.Pt(0, 224)}}},
		{"final_case name", DefaultLabels, []Entry{{Name: "final_case", Model: m, Size: image.Pt(1, 1)}}},
		{"error name", DefaultLabels, []Entry{
			{Name: "a", Model: m, Size: image.Pt(1, 1)},
			{Name: "error", Model: m, Size: image.Pt(1, 1)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.labels, tt.entries...)
			assert.ErrorIs(t, err, ErrInvalidRegistry)
		})
	}
}

func TestRegistry_Close(t *testing.T) {
	a, b := &staticModel{}, &staticModel{}
	r, err := NewRegistry(DefaultLabels,
		Entry{Name: "a", Model: a, Size: image.Pt(1, 1)},
		Entry{Name: "b", Model: b, Size: image.Pt(1, 1)},
	)
	require.NoError(t, err)

	r.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestReadMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resnet50.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"input_shape": [1, 224, 224, 3],
		"classes": ["Benign", "Malignant", "Normal"],
		"image_size": 224
	}`), 0o644))

	md, err := readMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", md.InputName)
	assert.Equal(t, "output", md.OutputName)
	assert.Equal(t, LayoutNHWC, md.Layout)
	assert.Equal(t, []int64{1, 3}, md.OutputShape)
}

func TestReadMetadata_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"layout.json":    `{"layout": "chwn", "classes": ["a"]}`,
		"noshape.json":   `{"input_name": "x"}`,
		"malformed.json": `{`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := readMetadata(path)
		assert.Error(t, err, name)
	}

	_, err := readMetadata(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestONNXModel_CheckInputShape(t *testing.T) {
	m := &ONNXModel{Metadata: Metadata{InputShape: []int64{-1, 3, 224, 224}, Layout: LayoutNCHW}}
	batch := &imaging.Batch{N: 1, H: 224, W: 224, C: 3}

	assert.Equal(t, []int64{1, 3, 224, 224}, m.inputShape(batch))
	assert.NoError(t, m.checkInputShape(m.inputShape(batch)))

	m.Metadata.Layout = LayoutNHWC
	assert.Error(t, m.checkInputShape(m.inputShape(batch)))
}
