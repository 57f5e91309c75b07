package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/A-SH2k17/LeafEyeAIServer/model"
	"github.com/A-SH2k17/LeafEyeAIServer/service"
	"github.com/A-SH2k17/LeafEyeAIServer/utils"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const notALeafMessage = "Error in detecting disease please upload a suitable plant image"

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

type PreprocessHandler struct {
	cfg        *config.Config
	preprocess *service.PreprocessService
	classifier service.Classifier
}

// NewPreprocessHandler classifier 可为 nil，此时 /detect 返回 503
func NewPreprocessHandler(cfg *config.Config, preprocess *service.PreprocessService, classifier service.Classifier) *PreprocessHandler {
	return &PreprocessHandler{
		cfg:        cfg,
		preprocess: preprocess,
		classifier: classifier,
	}
}

// Preprocess 上传图片并返回归一化结果
func (h *PreprocessHandler) Preprocess(c *gin.Context) {
	data, ok := h.readUpload(c)
	if !ok {
		return
	}

	res, md5, ok := h.run(c, data)
	if !ok {
		return
	}

	summary := service.Summary(md5, res)
	switch res.Outcome {
	case service.OutcomeFailed:
		c.JSON(http.StatusBadRequest, model.PreprocessResponse{
			Success: false,
			Message: "invalid image",
			Error:   errorText(res.Err()),
			Data:    &summary,
		})
		return
	case service.OutcomeNotALeaf:
		c.JSON(http.StatusOK, model.PreprocessResponse{
			Success: true,
			Message: "no leaf detected",
			Data:    &summary,
		})
		return
	}

	resp := model.PreprocessResponse{
		Success: true,
		Message: "preprocessed",
		Data:    &summary,
	}
	if c.DefaultQuery("include_tensor", "false") == "true" {
		resp.Tensor = res.Tensor
	}
	c.JSON(http.StatusOK, resp)
}

// Detect 预处理后交给分类模型
func (h *PreprocessHandler) Detect(c *gin.Context) {
	if h.classifier == nil {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Success: false,
			Message: "disease classifier is not available",
			Error:   service.ErrClassifierUnavailable.Error(),
		})
		return
	}

	data, ok := h.readUpload(c)
	if !ok {
		return
	}

	res, _, ok := h.run(c, data)
	if !ok {
		return
	}

	switch res.Outcome {
	case service.OutcomeFailed:
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "invalid image",
			Error:   errorText(res.Err()),
		})
		return
	case service.OutcomeNotALeaf:
		c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
			Success: false,
			Message: notALeafMessage,
		})
		return
	}

	cls, err := h.classifier.Classify(c.Request.Context(), res.Tensor, res.Width, res.Height)
	if err != nil {
		utils.Logger.Error("failed to classify image", zap.Error(err))
		c.JSON(http.StatusBadGateway, model.ErrorResponse{
			Success: false,
			Message: "Error during disease detection",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.DetectResponse{
		Success:    true,
		Disease:    cls.Label,
		Index:      cls.Index,
		Confidence: cls.Confidence,
		Scores:     cls.Scores,
		Outcome:    string(res.Outcome),
		Reason:     res.Reason,
	})
}

// GetByMD5 根据MD5获取预处理摘要
func (h *PreprocessHandler) GetByMD5(c *gin.Context) {
	md5 := c.Param("md5")
	if md5 == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "missing md5",
		})
		return
	}

	res, err := h.preprocess.Lookup(c.Request.Context(), md5)
	if err != nil {
		utils.Logger.Error("failed to get cached result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "lookup failed",
			Error:   err.Error(),
		})
		return
	}

	if res == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "no preprocessing result for this image",
		})
		return
	}

	summary := service.Summary(md5, res)
	c.JSON(http.StatusOK, model.PreprocessResponse{
		Success: true,
		Message: "found",
		Data:    &summary,
	})
}

func (h *PreprocessHandler) run(c *gin.Context, data []byte) (*service.Result, string, bool) {
	res, md5, err := h.preprocess.Process(c.Request.Context(), data)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		utils.Logger.Error("failed to process image", zap.Error(err))
		c.JSON(status, model.ErrorResponse{
			Success: false,
			Message: "image processing failed",
			Error:   err.Error(),
		})
		return nil, md5, false
	}
	return res, md5, true
}

func (h *PreprocessHandler) readUpload(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No image file provided",
			Error:   err.Error(),
		})
		return nil, false
	}

	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "No image selected",
		})
		return nil, false
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds the %d MB limit", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, false
	}

	// 验证文件类型
	if !h.isAllowed(file.Header.Get("Content-Type"), file.Filename) {
		c.JSON(http.StatusUnsupportedMediaType, model.ErrorResponse{
			Success: false,
			Message: "unsupported file type, only PNG/JPEG/WEBP are accepted",
		})
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to read upload",
			Error:   err.Error(),
		})
		return nil, false
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size))

	return data, true
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *PreprocessHandler) isAllowed(contentType, filename string) bool {
	if lo.ContainsBy(h.cfg.Upload.AllowedTypes, func(allowed string) bool {
		return strings.EqualFold(contentType, allowed)
	}) {
		return true
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}
