package service

import (
	"image"
	"image/color"
	"math"

	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Hough 直线检测参数
const (
	scratchRho           = 1
	scratchThreshold     = 50
	scratchMinLineLength = 30
	scratchMaxLineGap    = 10
	scratchLineThickness = 2
)

// ScratchDetector 负责自动检测划痕类的细长损伤
type ScratchDetector struct{}

func NewScratchDetector() *ScratchDetector {
	return &ScratchDetector{}
}

// Detect 返回与图像同尺寸的单通道划痕掩码：Canny 边缘膨胀后做概率 Hough 直线检测，
// 每条直线以 2 像素宽画入掩码
func (sd *ScratchDetector) Detect(img gocv.Mat) Mask {
	rows, cols := img.Rows(), img.Cols()
	if img.Empty() {
		return Mask{Hard: gocv.NewMat(), Feathered: gocv.NewMat()}
	}

	edges := detectEdges(img, 50, 150, true)
	defer edges.Close()

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, scratchRho, math.Pi/180, scratchThreshold, scratchMinLineLength, scratchMaxLineGap)

	hard := zeros(rows, cols, gocv.MatTypeCV8UC1)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		if len(v) < 4 {
			continue
		}
		gocv.Line(&hard,
			image.Point{X: int(v[0]), Y: int(v[1])},
			image.Point{X: int(v[2]), Y: int(v[3])},
			white, scratchLineThickness)
	}

	mask := Mask{Hard: hard, Feathered: hard.Clone()}
	utils.Logger.Debug("scratches detected",
		zap.Int("lines", lines.Rows()),
		zap.Int("mask_pixels", mask.Pixels()))
	return mask
}
