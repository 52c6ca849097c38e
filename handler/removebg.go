package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/armanrma7/rmbg/config"
	"github.com/armanrma7/rmbg/model"
	"github.com/armanrma7/rmbg/service"
	"github.com/armanrma7/rmbg/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RemoveBGHandler struct {
	cfg      *config.Config
	pipeline *service.Pipeline
	memory   *service.MemoryCache
	shared   *service.RedisCache // may be nil
}

func NewRemoveBGHandler(cfg *config.Config, pipeline *service.Pipeline, memory *service.MemoryCache, shared *service.RedisCache) *RemoveBGHandler {
	return &RemoveBGHandler{
		cfg:      cfg,
		pipeline: pipeline,
		memory:   memory,
		shared:   shared,
	}
}

// Remove handles POST /api/v1/remove-bg: multipart upload in, PNG cutout out.
func (h *RemoveBGHandler) Remove(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "upload an image under the \"image\" form field",
			Kind:    string(model.ErrEmptyInput),
			Error:   err.Error(),
		})
		return
	}

	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds the %d MB limit", h.cfg.Upload.MaxSize/(1024*1024)),
			Kind:    string(model.ErrResourceExceeded),
		})
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "unsupported content type, use JPEG/PNG/WebP",
			Kind:    string(model.ErrDecodeFailure),
		})
		return
	}

	opts, err := h.parseOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return
	}
	raw, err := io.ReadAll(src)
	_ = src.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return
	}

	data, hash, err := h.pipeline.Process(c.Request.Context(), raw, opts)
	if err != nil {
		kind, _ := model.KindOf(err)
		utils.Logger.Error("pipeline failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("kind", string(kind)),
			zap.Error(err))
		c.JSON(statusForKind(kind), model.ErrorResponse{
			Success: false,
			Message: "background removal failed",
			Kind:    string(kind),
			Error:   err.Error(),
		})
		return
	}

	c.Header("X-Content-Hash", hash)
	c.Data(http.StatusOK, "image/png", data)
}

// GetByHash handles GET /api/v1/result/:hash, re-serving a cached cutout.
func (h *RemoveBGHandler) GetByHash(c *gin.Context) {
	hash := c.Param("hash")
	if hash == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "hash parameter missing",
		})
		return
	}

	if data, ok := h.memory.Get(hash); ok {
		c.Header("X-Content-Hash", hash)
		c.Data(http.StatusOK, "image/png", data)
		return
	}

	if h.shared != nil {
		data, err := h.shared.Get(c.Request.Context(), hash)
		if err != nil {
			utils.Logger.Warn("shared cache read failed", zap.Error(err))
		} else if data != nil {
			h.memory.Put(hash, data)
			c.Header("X-Content-Hash", hash)
			c.Data(http.StatusOK, "image/png", data)
			return
		}
	}

	c.JSON(http.StatusNotFound, model.ErrorResponse{
		Success: false,
		Message: "no cutout cached under this hash",
	})
}

func (h *RemoveBGHandler) parseOptions(c *gin.Context) (service.ProcessingConfig, error) {
	raw := service.ProcessingConfig{
		Preset:    c.DefaultQuery("mode", service.PresetFast),
		Model:     c.Query("model"),
		SizeMode:  c.DefaultQuery("size", service.SizeAuto),
		Threshold: -1,
		Reverse:   boolQuery(c, "reverse", false),
		Refine:    boolQuery(c, "refine", true),
		Despill:   boolQuery(c, "despill", true),
		Crop:      boolQuery(c, "crop", true),
	}

	if s := c.Query("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 1 {
			return service.ProcessingConfig{}, fmt.Errorf("threshold must be a number in [0,1]")
		}
		raw.Threshold = v
	}

	raw.CropMargin = 10
	if s := c.Query("crop_margin"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return service.ProcessingConfig{}, fmt.Errorf("crop_margin must be an integer")
		}
		raw.CropMargin = v
	}

	return service.NormalizeConfig(raw, &h.cfg.Pipeline)
}

func boolQuery(c *gin.Context, name string, def bool) bool {
	s := c.Query(name)
	if s == "" {
		return def
	}
	return s == "true" || s == "1"
}

func (h *RemoveBGHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrEmptyInput, model.ErrDecodeFailure, model.ErrUnsupportedModel:
		return http.StatusBadRequest
	case model.ErrResourceExceeded:
		return http.StatusRequestEntityTooLarge
	case model.ErrQueueFull:
		return http.StatusServiceUnavailable
	case model.ErrSegmentationFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
