package model

import (
	"errors"
	"fmt"
	"image"
	"io"
	"slices"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var ErrInvalidRegistry = errors.New("invalid model registry")

// DefaultLabels is the class order the bundled models were trained with.
var DefaultLabels = []string{"Benign", "Malignant", "Normal"}

// reservedNames are keys the prediction response uses next to the
// per-model entries.
var reservedNames = []string{"final_case", "error"}

// Spec locates one model artifact on disk.
type Spec struct {
	Name         string `mapstructure:"name"`
	ModelPath    string `mapstructure:"model_path"`
	MetadataPath string `mapstructure:"metadata_path"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
}

// Registry is the fixed set of models every prediction runs through. It is
// built once at startup and never modified afterwards, so it can be shared
// by concurrent requests.
type Registry struct {
	labels  []string
	entries []Entry
	onClose func()
}

// NewRegistry builds a registry from already-loaded models. Entries keep
// the order they are given in.
func NewRegistry(labels []string, entries ...Entry) (*Registry, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no class labels", ErrInvalidRegistry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrInvalidRegistry)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: model with empty name", ErrInvalidRegistry)
		}
		if slices.Contains(reservedNames, e.Name) {
			return nil, fmt.Errorf("%w: model name %q is reserved", ErrInvalidRegistry, e.Name)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate model %q", ErrInvalidRegistry, e.Name)
		}
		seen[e.Name] = struct{}{}
		if e.Model == nil {
			return nil, fmt.Errorf("%w: model %q has no inferer", ErrInvalidRegistry, e.Name)
		}
		if e.Size.X <= 0 || e.Size.Y <= 0 {
			return nil, fmt.Errorf("%w: model %q has invalid size %dx%d", ErrInvalidRegistry, e.Name, e.Size.X, e.Size.Y)
		}
	}

	return &Registry{
		labels:  slices.Clone(labels),
		entries: slices.Clone(entries),
	}, nil
}

// LoadRegistry initializes the ONNX environment and loads every spec. Any
// failure is fatal for the whole registry; models loaded so far are closed.
func LoadRegistry(sharedLibraryPath string, labels []string, specs []Spec) (*Registry, error) {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	entries := make([]Entry, 0, len(specs))
	fail := func(err error) (*Registry, error) {
		for _, e := range entries {
			closeModel(e)
		}
		ort.DestroyEnvironment()
		return nil, err
	}

	for _, spec := range specs {
		log.Info().Str("model", spec.Name).Str("path", spec.ModelPath).Msg("loading model")
		m, err := NewONNXModel(spec.ModelPath, spec.MetadataPath)
		if err != nil {
			return fail(fmt.Errorf("model %s: %w", spec.Name, err))
		}
		if len(m.Metadata.Classes) > 0 && !slices.Equal(m.Metadata.Classes, labels) {
			m.Close()
			return fail(fmt.Errorf("%w: model %s classes %v do not match %v",
				ErrInvalidRegistry, spec.Name, m.Metadata.Classes, labels))
		}

		size := image.Pt(spec.Width, spec.Height)
		if size.X <= 0 || size.Y <= 0 {
			size = image.Pt(m.Metadata.ImageSize, m.Metadata.ImageSize)
		}
		entries = append(entries, Entry{Name: spec.Name, Model: m, Size: size})
	}

	r, err := NewRegistry(labels, entries...)
	if err != nil {
		return fail(err)
	}
	r.onClose = func() { ort.DestroyEnvironment() }
	return r, nil
}

func (r *Registry) Labels() []string {
	return slices.Clone(r.labels)
}

// Entries returns the models in registry order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Close releases every model that holds resources.
func (r *Registry) Close() {
	for _, e := range r.entries {
		closeModel(e)
	}
	if r.onClose != nil {
		r.onClose()
	}
}

func closeModel(e Entry) {
	c, ok := e.Model.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("model", e.Name).Msg("failed to close model")
	}
}
