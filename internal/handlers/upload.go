package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// stagedUpload is an uploaded file copied to disk for the duration of one
// request. Release must be deferred as soon as staging succeeds.
type stagedUpload struct {
	Path string
}

// stageUpload copies header's content into dir under a collision-free name.
func stageUpload(dir string, header *multipart.FileHeader) (*stagedUpload, error) {
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	name := strings.ReplaceAll(uuid.New().String(), "-", "") + "_" + filepath.Base(header.Filename)
	path := filepath.Join(dir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	upload := &stagedUpload{Path: path}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		upload.Release()
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		upload.Release()
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	return upload, nil
}

func (u *stagedUpload) Release() {
	if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", u.Path).Msg("could not remove temp file")
	}
}
