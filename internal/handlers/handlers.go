package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/Brownie44l1/lungscan-api/internal/config"
	"github.com/Brownie44l1/lungscan-api/internal/ensemble"
	"github.com/Brownie44l1/lungscan-api/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Predictor classifies the image stored at path.
type Predictor interface {
	Predict(ctx context.Context, path string) (*ensemble.Result, error)
}

type Handler struct {
	predictor Predictor
	registry  *model.Registry
	cfg       *config.Configs
}

type ModelInfo struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ModelsResponse struct {
	Classes []string    `json:"classes"`
	Models  []ModelInfo `json:"models"`
}

// NewHandler creates the upload directory if needed.
func NewHandler(predictor Predictor, registry *model.Registry, cfg *config.Configs) (*Handler, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	return &Handler{
		predictor: predictor,
		registry:  registry,
		cfg:       cfg,
	}, nil
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/models", h.Models)
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.Predict)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Models(c *gin.Context) {
	resp := ModelsResponse{Classes: h.registry.Labels()}
	for _, e := range h.registry.Entries() {
		resp.Models = append(resp.Models, ModelInfo{Name: e.Name, Width: e.Size.X, Height: e.Size.Y})
	}
	c.JSON(http.StatusOK, resp)
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.UploadMaxBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusBadRequest, errorBody("File too large"))
		case errors.Is(err, http.ErrNotMultipart):
			c.JSON(http.StatusBadRequest, errorBody("No file uploaded"))
		default:
			log.Debug().Err(err).Msg("failed to parse multipart form")
			c.JSON(http.StatusBadRequest, errorBody("Failed to parse form"))
		}
		return
	}

	header, status, msg := h.pickFile(form)
	if header == nil {
		c.JSON(status, errorBody(msg))
		return
	}

	upload, err := stageUpload(h.cfg.UploadDir, header)
	if err != nil {
		log.Error().Err(err).Msg("failed to stage upload")
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	defer upload.Release()

	log.Info().Str("file", header.Filename).Int64("size", header.Size).Msg("received scan")

	result, err := h.predictor.Predict(c.Request.Context(), upload.Path)
	if err != nil {
		log.Error().Err(err).Str("file", header.Filename).Msg("prediction failed")
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

// pickFile returns the first upload among the configured field names. When
// none is usable it returns the status and message to reply with.
func (h *Handler) pickFile(form *multipart.Form) (*multipart.FileHeader, int, string) {
	for _, field := range h.cfg.UploadFieldNames {
		files := form.File[field]
		if len(files) == 0 {
			// A file part with an empty filename is parsed as a plain value.
			if _, ok := form.Value[field]; ok {
				return nil, http.StatusBadRequest, "No file selected"
			}
			continue
		}
		header := files[0]
		if header.Filename == "" {
			return nil, http.StatusBadRequest, "No file selected"
		}
		if !h.cfg.AllowedExtension(header.Filename) {
			return nil, http.StatusBadRequest, "Invalid file type"
		}
		return header, http.StatusOK, ""
	}
	return nil, http.StatusBadRequest, "No file uploaded"
}
