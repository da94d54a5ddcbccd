package imaging

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ScratchWriter persists normalized images for later inspection. Every file
// gets a fresh random name and is created exclusively, so concurrent
// requests never overwrite each other.
type ScratchWriter struct {
	dir string
}

func NewScratchWriter(dir string) (*ScratchWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return &ScratchWriter{dir: dir}, nil
}

func (w *ScratchWriter) Dir() string {
	return w.dir
}

// Write encodes t as a JPEG and returns the path it was written to.
func (w *ScratchWriter) Write(t Tensor) (string, error) {
	path := filepath.Join(w.dir, uuid.New().String()+".jpg")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}

	if err := jpeg.Encode(f, t.toImage(), &jpeg.Options{Quality: 95}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode scratch image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close scratch file: %w", err)
	}
	return path, nil
}
