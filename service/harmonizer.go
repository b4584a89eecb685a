package service

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

const (
	harmonizeMinDiff   = 5.0
	harmonizeMinFactor = 0.7
	harmonizeMaxFactor = 1.3
	maskSharpenBlend   = 0.3
)

// ColorHarmonizer 负责使修复区域的颜色与周边一致
type ColorHarmonizer struct{}

func NewColorHarmonizer() *ColorHarmonizer {
	return &ColorHarmonizer{}
}

// HarmonizeFactor 通道校正系数，均值差不超过5时为1，否则截断到 [0.7, 1.3]
func HarmonizeFactor(borderMean, fillMean float64) float64 {
	if math.Abs(borderMean-fillMean) <= harmonizeMinDiff {
		return 1
	}
	return clampFloat(borderMean/math.Max(fillMean, 1), harmonizeMinFactor, harmonizeMaxFactor)
}

// Harmonize 按边界带（掩码膨胀 5x5 两次减去掩码）的通道均值校正修复区域，
// 再在掩码内做一次轻度锐化。掩码或边界带为空时返回副本
func (h *ColorHarmonizer) Harmonize(img gocv.Mat, mask Mask) (gocv.Mat, []float64, error) {
	if mask.Empty() {
		return img.Clone(), nil, nil
	}

	border := h.borderBand(mask.Hard)
	defer border.Close()
	if countNonZero(border) == 0 {
		return img.Clone(), nil, nil
	}

	r := rasterOf(img)
	hard := rasterOf(mask.Hard)
	band := rasterOf(border)
	if len(hard.pix) != r.rows*r.cols {
		return gocv.NewMat(), nil, fmt.Errorf("mask size mismatch")
	}

	borderMeans, _ := r.channelMeans(band.pix)
	fillMeans, _ := r.channelMeans(hard.pix)

	factors := make([]float64, r.channels)
	for c := range factors {
		factors[c] = HarmonizeFactor(borderMeans[c], fillMeans[c])
	}

	for i, v := range hard.pix {
		if v == 0 {
			continue
		}
		for c := 0; c < r.channels; c++ {
			j := i*r.channels + c
			r.pix[j] = clampByte(float64(r.pix[j]) * factors[c])
		}
	}

	sharpenInside(r, hard.pix)

	out, err := r.mat()
	return out, factors, err
}

func (h *ColorHarmonizer) borderBand(hard gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 5, Y: 5})
	defer kernel.Close()

	once := gocv.NewMat()
	defer once.Close()
	gocv.Dilate(hard, &once, kernel)

	twice := gocv.NewMat()
	defer twice.Close()
	gocv.Dilate(once, &twice, kernel)

	notMask := gocv.NewMat()
	defer notMask.Close()
	gocv.BitwiseNot(hard, &notMask)

	band := gocv.NewMat()
	gocv.BitwiseAnd(twice, notMask, &band)
	return band
}

// sharpenInside 掩码内与 [0,-1,0;-1,5,-1;0,-1,0] 锐化结果按 30% 混合，原地修改
func sharpenInside(r raster, mask []uint8) {
	src := r.clone()
	ch := r.channels
	at := func(x, y, c int) float64 {
		x = min(max(x, 0), r.cols-1)
		y = min(max(y, 0), r.rows-1)
		return float64(src.pix[(y*r.cols+x)*ch+c])
	}
	for y := 0; y < r.rows; y++ {
		for x := 0; x < r.cols; x++ {
			if mask[y*r.cols+x] == 0 {
				continue
			}
			for c := 0; c < ch; c++ {
				center := at(x, y, c)
				sharp := 5*center - at(x-1, y, c) - at(x+1, y, c) - at(x, y-1, c) - at(x, y+1, c)
				sharp = clampFloat(sharp, 0, 255)
				r.pix[(y*r.cols+x)*ch+c] = clampByte((1-maskSharpenBlend)*center + maskSharpenBlend*sharp)
			}
		}
	}
}
