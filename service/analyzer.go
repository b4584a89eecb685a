package service

import (
	"math"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"gocv.io/x/gocv"
)

// noiseVarianceScale Laplacian 方差映射到 [0,1] 的分母
const noiseVarianceScale = 5000.0

// ImageAnalyzer 负责计算图像描述量，供后续阶段自适应决策
type ImageAnalyzer struct{}

// NewImageAnalyzer 创建一个新的ImageAnalyzer实例
func NewImageAnalyzer() *ImageAnalyzer {
	return &ImageAnalyzer{}
}

// Analyze 分析图像的亮度、噪声、边缘密度与色彩平衡
func (ia *ImageAnalyzer) Analyze(img gocv.Mat) model.ImageAnalysis {
	r := rasterOf(img)
	return model.ImageAnalysis{
		Brightness:   ia.calculateBrightness(r),
		NoiseLevel:   ia.calculateNoiseLevel(img),
		EdgeDensity:  ia.calculateEdgeDensity(img),
		ColorBalance: ia.calculateColorBalance(r),
	}
}

// calculateBrightness 全部采样的均值
func (ia *ImageAnalyzer) calculateBrightness(r raster) float64 {
	if len(r.pix) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range r.pix {
		sum += float64(v)
	}
	return sum / float64(len(r.pix)) / 255.0
}

// calculateNoiseLevel 基于 Laplacian 响应方差估计噪声
func (ia *ImageAnalyzer) calculateNoiseLevel(img gocv.Mat) float64 {
	gray := toGray(img)
	defer gray.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return clampFloat(sd*sd/noiseVarianceScale, 0, 1)
}

// calculateEdgeDensity 计算图像的边缘密度
func (ia *ImageAnalyzer) calculateEdgeDensity(img gocv.Mat) float64 {
	edges := detectEdges(img, 50, 150, false)
	defer edges.Close()

	totalPixels := float64(img.Rows() * img.Cols())
	if totalPixels == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(edges)) / totalPixels
}

// calculateColorBalance 各通道校正比例 = 全通道均值 / 通道均值，
// 均值低于1时按1计算
func (ia *ImageAnalyzer) calculateColorBalance(r raster) [3]float64 {
	balance := [3]float64{1, 1, 1}
	if r.channels != 3 {
		return balance
	}

	means, _ := r.channelMeans(nil)
	overall := 0.0
	for c := range means {
		means[c] = math.Max(means[c], 1.0)
		overall += means[c]
	}
	overall /= 3

	for c := 0; c < 3; c++ {
		balance[c] = overall / means[c]
	}
	return balance
}

// complexityLevel 只用于日志
func complexityLevel(a model.ImageAnalysis) string {
	switch {
	case a.EdgeDensity < 0.05 && a.NoiseLevel < 0.1:
		return "simple"
	case a.EdgeDensity > 0.15 || a.NoiseLevel > 0.4:
		return "complex"
	default:
		return "medium"
	}
}
