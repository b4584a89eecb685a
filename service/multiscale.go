package service

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

const (
	maxPyramidLevels = 3
	minPyramidScale  = 0.25
	minPyramidSide   = 8
)

// multiscaleFill 金字塔修复：从最粗层开始 Telea 修复，逐层上采样，
// 在较细层与该层自身的修复结果平均，低频结构来自粗层、细节来自细层
func (in *Inpainter) multiscaleFill(img, mask gocv.Mat, radius int) (gocv.Mat, error) {
	rows, cols := img.Rows(), img.Cols()

	type level struct{ rows, cols int }
	levels := make([]level, 0, in.levels)
	for k := 0; k < in.levels; k++ {
		scale := math.Max(math.Pow(0.5, float64(k)), minPyramidScale)
		lr := int(math.Round(float64(rows) * scale))
		lc := int(math.Round(float64(cols) * scale))
		if k > 0 && (lr < minPyramidSide || lc < minPyramidSide) {
			break
		}
		levels = append(levels, level{rows: lr, cols: lc})
		if scale == minPyramidScale {
			break
		}
	}

	var prev gocv.Mat
	hasPrev := false
	for k := len(levels) - 1; k >= 0; k-- {
		lv := levels[k]

		lvImg := img.Clone()
		lvMask := mask.Clone()
		if k > 0 {
			lvImg.Close()
			lvMask.Close()
			lvImg = resizeTo(img, lv.rows, lv.cols, gocv.InterpolationArea)
			shrunk := resizeTo(mask, lv.rows, lv.cols, gocv.InterpolationArea)
			// 部分损伤的像素在粗层上也视为损伤
			lvMask = gocv.NewMat()
			gocv.Threshold(shrunk, &lvMask, 0, 255, gocv.ThresholdBinary)
			shrunk.Close()
		}

		fill := teleaFill(lvImg, lvMask, radius)
		if hasPrev {
			merged, err := averageInside(fill, prev, lvMask)
			prev.Close()
			fill.Close()
			if err != nil {
				lvImg.Close()
				lvMask.Close()
				return gocv.NewMat(), err
			}
			fill = merged
		}
		lvImg.Close()
		lvMask.Close()

		if k == 0 {
			return fill, nil
		}
		next := levels[k-1]
		prev = resizeTo(fill, next.rows, next.cols, gocv.InterpolationLinear)
		hasPrev = true
		fill.Close()
	}
	return gocv.NewMat(), fmt.Errorf("no pyramid levels for %dx%d image", cols, rows)
}

// averageInside 掩码内两幅图取平均，掩码外保持 a
func averageInside(a, b, mask gocv.Mat) (gocv.Mat, error) {
	ra, rb, rm := rasterOf(a), rasterOf(b), rasterOf(mask)
	if len(ra.pix) != len(rb.pix) || len(rm.pix) != ra.rows*ra.cols {
		return gocv.NewMat(), fmt.Errorf("pyramid level size mismatch")
	}
	ch := ra.channels
	for i, v := range rm.pix {
		if v == 0 {
			continue
		}
		for c := 0; c < ch; c++ {
			j := i*ch + c
			ra.pix[j] = uint8((int(ra.pix[j]) + int(rb.pix[j]) + 1) / 2)
		}
	}
	return ra.mat()
}
