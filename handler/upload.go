package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/FarazKhanAI/ImageRestoration/config"
	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/service"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type RestoreHandler struct {
	cfg             *config.Config
	presets         config.Presets
	redisService    *service.RedisService
	restoreService  *service.RestorationService
	scratchDetector *service.ScratchDetector
}

func NewRestoreHandler(cfg *config.Config, presets config.Presets, redis *service.RedisService, restore *service.RestorationService) *RestoreHandler {
	if presets == nil {
		presets = config.Presets{}
	}
	return &RestoreHandler{
		cfg:             cfg,
		presets:         presets,
		redisService:    redis,
		restoreService:  restore,
		scratchDetector: service.NewScratchDetector(),
	}
}

// Process 处理图片修复
func (h *RestoreHandler) Process(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	if msg := h.validateUpload(file); msg != "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Success: false, Message: msg})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		utils.Logger.Error("failed to read file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}

	// 保存原图
	ext := strings.ToLower(filepath.Ext(file.Filename))
	rawPath := filepath.Join(h.cfg.Upload.RawDir, utils.ShortID()+ext)
	if err := os.WriteFile(rawPath, data, 0644); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}

	// 确保文件在处理完成后被删除（如果配置启用）
	if h.cfg.Restoration.CleanupTempFiles {
		defer func() {
			if err := os.Remove(rawPath); err != nil {
				utils.Logger.Warn("failed to delete temp file",
					zap.String("file", rawPath),
					zap.Error(err))
			} else {
				utils.Logger.Debug("temp file deleted",
					zap.String("file", rawPath))
			}
		}()
	}

	strokes := h.parseStrokes(c.PostForm("mask_data"))

	var maskBytes []byte
	if maskFile, err := c.FormFile("mask"); err == nil {
		if maskBytes, err = readUpload(maskFile); err != nil {
			utils.Logger.Warn("failed to read mask file, ignoring", zap.Error(err))
			maskBytes = nil
		}
	}

	rawParams := map[string]any{}
	if s := strings.TrimSpace(c.PostForm("parameters")); s != "" {
		if err := json.Unmarshal([]byte(s), &rawParams); err != nil {
			utils.Logger.Warn("invalid parameters json, using defaults", zap.Error(err))
			rawParams = map[string]any{}
		}
	}
	presetName := c.PostForm("preset")
	merged, ok := h.presets.Merge(presetName, rawParams)
	if !ok {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("未知预设: %s", presetName),
		})
		return
	}
	params := model.ParseParameters(merged)

	md5 := utils.BytesMD5(data)
	digest, err := utils.DigestJSON(merged, strokes, utils.BytesMD5(maskBytes))
	if err != nil {
		utils.Logger.Warn("failed to digest request", zap.Error(err))
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size),
		zap.Int("strokes", len(strokes)),
		zap.Bool("mask_file", len(maskBytes) > 0),
		zap.String("preset", presetName))

	// 检查缓存（带参数区分）
	ctx := c.Request.Context()
	if digest != "" {
		cached, err := h.redisService.GetResult(ctx, md5, digest)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil && h.restoreCached(cached) {
			utils.Logger.Info("cache hit", zap.String("md5", md5), zap.String("digest", digest))
			metrics := cached.Metrics
			c.JSON(http.StatusOK, model.ProcessResponse{
				Success:        true,
				Message:        "处理成功（来自缓存）",
				OriginalImage:  utils.DataURI("image/jpeg", cached.Original),
				ProcessedImage: utils.DataURI("image/jpeg", cached.Image),
				Metrics:        &metrics,
				Filename:       cached.Filename,
				MaskUsed:       metrics.MaskUsed,
				MaskID:         cached.MaskID,
				Cached:         true,
			})
			return
		}
	}

	out, err := h.restoreService.Process(ctx, service.ProcessRequest{
		Image:   data,
		Mask:    maskBytes,
		Strokes: strokes,
		Params:  params,
	})
	if err != nil {
		utils.Logger.Error("failed to process image", zap.Error(err))
		c.JSON(statusFor(err), model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   err.Error(),
		})
		return
	}
	defer out.Close()

	quality := params.Clamped().Quality
	processed, err := service.EncodeImage(out.Result.Processed, gocv.JPEGFileExt, quality)
	if err != nil {
		h.internalError(c, "编码结果失败", err)
		return
	}
	original, err := service.EncodeImage(out.Original, gocv.JPEGFileExt, h.cfg.Restoration.JPEGQuality)
	if err != nil {
		h.internalError(c, "编码原图失败", err)
		return
	}

	filename := utils.ShortID() + ".jpg"
	if err := os.WriteFile(filepath.Join(h.cfg.Upload.ProcessedDir, filename), processed, 0644); err != nil {
		h.internalError(c, "保存结果失败", err)
		return
	}

	metrics := out.Result.Metrics
	maskID := ""
	if metrics.MaskUsed {
		maskID = utils.ShortID()
		if err := h.redisService.SaveMask(ctx, maskID, out.Result.Mask); err != nil {
			utils.Logger.Warn("failed to store mask", zap.Error(err))
			maskID = ""
		}
	}

	// 保存到缓存
	if digest != "" {
		if err := h.redisService.SetResult(ctx, md5, digest, &model.CachedResult{
			Filename: filename,
			Image:    processed,
			Original: original,
			Metrics:  metrics,
			MaskID:   maskID,
		}); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.ProcessResponse{
		Success:        true,
		Message:        "处理成功",
		OriginalImage:  utils.DataURI("image/jpeg", original),
		ProcessedImage: utils.DataURI("image/jpeg", processed),
		Metrics:        &metrics,
		Filename:       filename,
		MaskUsed:       metrics.MaskUsed,
		MaskID:         maskID,
	})
}

// Download 下载修复结果
func (h *RestoreHandler) Download(c *gin.Context) {
	name := c.Param("filename")
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "非法文件名",
		})
		return
	}

	path := filepath.Join(h.cfg.Upload.ProcessedDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "文件不存在",
		})
		return
	}

	c.FileAttachment(path, "restored_"+name)
}

// Presets 列出可用预设
func (h *RestoreHandler) Presets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"names":   h.presets.Names(),
		"presets": h.presets,
	})
}

func (h *RestoreHandler) parseStrokes(maskData string) []model.StrokeSample {
	if strings.TrimSpace(maskData) == "" {
		return nil
	}
	strokes, dropped, err := model.ParseMaskData([]byte(maskData))
	if err != nil {
		utils.Logger.Warn("invalid mask_data, processing without strokes", zap.Error(err))
		return nil
	}
	if dropped > 0 {
		utils.Logger.Warn("malformed stroke samples skipped", zap.Int("dropped", dropped))
	}
	return strokes
}

// restoreCached 确保缓存命中的结果文件仍可下载
func (h *RestoreHandler) restoreCached(cached *model.CachedResult) bool {
	if cached.Filename != filepath.Base(cached.Filename) || len(cached.Image) == 0 || len(cached.Original) == 0 {
		return false
	}
	path := filepath.Join(h.cfg.Upload.ProcessedDir, cached.Filename)
	// 文件缺失或内容与缓存不一致时重新写入
	if sum, err := utils.FileMD5(path); err == nil && sum == utils.BytesMD5(cached.Image) {
		return true
	}
	if err := os.WriteFile(path, cached.Image, 0644); err != nil {
		utils.Logger.Warn("failed to restore cached file", zap.String("file", path), zap.Error(err))
		return false
	}
	return true
}

func (h *RestoreHandler) internalError(c *gin.Context, msg string, err error) {
	utils.Logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Success: false,
		Message: msg,
		Error:   err.Error(),
	})
}

// validateUpload 校验大小、扩展名与类型，返回错误提示
func (h *RestoreHandler) validateUpload(file *multipart.FileHeader) string {
	if file.Size > h.cfg.Upload.MaxSize {
		return fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024))
	}
	if !h.isAllowedExt(filepath.Ext(file.Filename)) {
		return "不支持的文件类型，仅支持 JPG/PNG/BMP/TIFF"
	}
	if contentType := file.Header.Get("Content-Type"); contentType != "" && !h.isAllowedType(contentType) {
		return "不支持的文件类型，仅支持 JPG/PNG/BMP/TIFF"
	}
	return ""
}

func (h *RestoreHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func (h *RestoreHandler) isAllowedExt(ext string) bool {
	for _, allowed := range h.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrLoad):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
