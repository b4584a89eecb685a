package handler

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/service"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// 掩码测试画布尺寸
const testMaskSize = 400

// TestMask 在 400x400 画布上构建掩码并保存为 PNG
func (h *RestoreHandler) TestMask(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Success: false, Message: "读取请求失败", Error: err.Error()})
		return
	}
	strokes, dropped, err := model.ParseMaskData(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "mask_data 格式错误",
			Error:   err.Error(),
		})
		return
	}

	mask := h.restoreService.BuildMask(testMaskSize, testMaskSize, strokes)
	defer mask.Close()

	png, err := service.EncodeImage(mask.Hard, gocv.PNGFileExt, 0)
	if err != nil {
		h.internalError(c, "编码掩码失败", err)
		return
	}
	path := filepath.Join(h.cfg.Upload.MaskDir, fmt.Sprintf("test_mask_%s.png", utils.ShortID()))
	if err := os.WriteFile(path, png, 0644); err != nil {
		h.internalError(c, "保存掩码失败", err)
		return
	}

	utils.Logger.Info("test mask built",
		zap.Int("strokes", len(strokes)),
		zap.Int("dropped", dropped),
		zap.Int("mask_pixels", mask.Pixels()))

	c.JSON(http.StatusOK, model.TestMaskResponse{
		Success:    true,
		MaskPixels: mask.Pixels(),
		MaskPath:   path,
	})
}

// GetMask 以 PNG 返回某次修复使用的掩码
func (h *RestoreHandler) GetMask(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "掩码ID缺失",
		})
		return
	}

	mask, found, err := h.redisService.GetMask(c.Request.Context(), id)
	defer mask.Close()
	if err != nil {
		h.internalError(c, "查询失败", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该掩码",
		})
		return
	}

	png, err := service.EncodeImage(mask, gocv.PNGFileExt, 0)
	if err != nil {
		h.internalError(c, "编码掩码失败", err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// DetectScratches 自动检测划痕并返回掩码
func (h *RestoreHandler) DetectScratches(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
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
		h.internalError(c, "读取文件失败", err)
		return
	}

	img, err := service.DecodeImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "无法读取图片",
			Error:   err.Error(),
		})
		return
	}
	defer img.Close()

	mask := h.scratchDetector.Detect(img)
	defer mask.Close()

	png, err := service.EncodeImage(mask.Hard, gocv.PNGFileExt, 0)
	if err != nil {
		h.internalError(c, "编码掩码失败", err)
		return
	}

	c.JSON(http.StatusOK, model.ScratchResponse{
		Success:    true,
		Mask:       utils.DataURI("image/png", png),
		MaskPixels: mask.Pixels(),
		Ratio:      mask.Ratio(),
	})
}
