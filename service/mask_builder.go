package service

import (
	"image"
	"image/color"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Mask 损伤掩码。Hard 取值 {0,255}，用于覆盖率与算法选择；
// Feathered 由 Hard 经闭、开运算和高斯模糊得到，用于接缝融合
type Mask struct {
	Hard      gocv.Mat
	Feathered gocv.Mat
}

// Close 释放掩码
func (m Mask) Close() {
	m.Hard.Close()
	m.Feathered.Close()
}

// Pixels 前景像素数
func (m Mask) Pixels() int {
	return countNonZero(m.Hard)
}

// Ratio 前景像素占比
func (m Mask) Ratio() float64 {
	total := m.Hard.Rows() * m.Hard.Cols()
	if total == 0 {
		return 0
	}
	return float64(m.Pixels()) / float64(total)
}

// Empty 全零掩码表示不需要修复
func (m Mask) Empty() bool {
	return m.Pixels() == 0
}

// Support 硬掩码与羽化掩码非零区域的并集，修复算法在此范围内填充
func (m Mask) Support() gocv.Mat {
	if m.Feathered.Empty() || m.Feathered.Rows() != m.Hard.Rows() || m.Feathered.Cols() != m.Hard.Cols() {
		return m.Hard.Clone()
	}
	soft := gocv.NewMat()
	defer soft.Close()
	gocv.Threshold(m.Feathered, &soft, 0, 255, gocv.ThresholdBinary)

	support := gocv.NewMat()
	gocv.BitwiseOr(m.Hard, soft, &support)
	return support
}

// EmptyMask 全零掩码
func EmptyMask(rows, cols int) Mask {
	return Mask{
		Hard:      zeros(rows, cols, gocv.MatTypeCV8UC1),
		Feathered: zeros(rows, cols, gocv.MatTypeCV8UC1),
	}
}

// MaskBuilder 负责由笔刷采样构建损伤掩码
type MaskBuilder struct {
	defaultRadius int
}

func NewMaskBuilder(defaultRadius int) *MaskBuilder {
	if defaultRadius < 1 {
		defaultRadius = model.DefaultBrushRadius
	}
	return &MaskBuilder{defaultRadius: defaultRadius}
}

// Build 在 rows x cols 画布上绘制笔刷圆盘并生成硬掩码与羽化掩码。
// 越界坐标被截断到画布内；没有采样点时返回全零掩码
func (mb *MaskBuilder) Build(rows, cols int, strokes []model.StrokeSample) Mask {
	if len(strokes) == 0 || rows <= 0 || cols <= 0 {
		return EmptyMask(max(rows, 1), max(cols, 1))
	}

	canvas := zeros(rows, cols, gocv.MatTypeCV8UC1)
	defer canvas.Close()

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for _, s := range strokes {
		x := min(max(s.X, 0), cols-1)
		y := min(max(s.Y, 0), rows-1)
		radius := s.Radius
		if radius < 1 {
			radius = mb.defaultRadius
		}
		radius = min(radius, rows+cols)
		// 后续 3x3 膨胀使圆盘外扩一个像素，这里先少画一个像素
		gocv.Circle(&canvas, image.Point{X: x, Y: y}, max(radius-1, 1), white, -1)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()

	bridged := gocv.NewMat()
	defer bridged.Close()
	gocv.Dilate(canvas, &bridged, kernel)

	return mb.refine(bridged)
}

// FromHard 由外部掩码图构建掩码，尺寸不一致时缩放到图像尺寸
func (mb *MaskBuilder) FromHard(src gocv.Mat, rows, cols int) Mask {
	if src.Empty() {
		return EmptyMask(rows, cols)
	}

	gray := toGray(src)
	defer gray.Close()

	if gray.Rows() != rows || gray.Cols() != cols {
		utils.Logger.Warn("mask size mismatch, resizing to image",
			zap.Int("mask_width", gray.Cols()),
			zap.Int("mask_height", gray.Rows()),
			zap.Int("width", cols),
			zap.Int("height", rows))
		resized := resizeTo(gray, rows, cols, gocv.InterpolationNearestNeighbor)
		gray.Close()
		gray = resized
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary)

	if countNonZero(binary) == 0 {
		return EmptyMask(rows, cols)
	}
	return mb.refine(binary)
}

// refine 闭运算填补缝隙、开运算去除噪点、高斯模糊羽化，再按50%阈值得到硬掩码
func (mb *MaskBuilder) refine(drawn gocv.Mat) Mask {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 5, Y: 5})
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(drawn, &closed, gocv.MorphClose, kernel)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)

	feathered := gocv.NewMat()
	gocv.GaussianBlur(opened, &feathered, image.Point{X: 11, Y: 11}, 3, 3, gocv.BorderDefault)

	hard := gocv.NewMat()
	gocv.Threshold(feathered, &hard, 127, 255, gocv.ThresholdBinary)

	return Mask{Hard: hard, Feathered: feathered}
}
