package service

import (
	"fmt"
	"image"
	"math"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"gocv.io/x/gocv"
)

const (
	maxPSNR      = 100.0
	ssimWindow   = 11
	ssimSigma    = 1.5
	ssimC1       = (0.01 * 255) * (0.01 * 255)
	ssimC2       = (0.03 * 255) * (0.03 * 255)
	ssimMaxValue = 1.0
)

// QualityScorer 负责比较处理前后的图像
type QualityScorer struct{}

func NewQualityScorer() *QualityScorer {
	return &QualityScorer{}
}

// Score 计算 PSNR、SSIM 与评价等级。尺寸不一致时先将结果缩放到原图尺寸
func (qs *QualityScorer) Score(original, result gocv.Mat) (model.QualityReport, error) {
	a := toGray(original)
	defer a.Close()
	b := toGray(result)
	defer b.Close()

	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		resized := resizeTo(b, a.Rows(), a.Cols(), gocv.InterpolationNearestNeighbor)
		b.Close()
		b = resized
	}

	psnr := PSNR(a, b)
	ssim, err := SSIM(a, b)
	if err != nil {
		return model.QualityReport{}, err
	}

	return model.QualityReport{
		PSNR:    round(psnr, 2),
		SSIM:    round(ssim, 4),
		Verdict: Verdict(psnr, ssim),
	}, nil
}

// PSNR 单通道图像的峰值信噪比，完全相同时为100
func PSNR(a, b gocv.Mat) float64 {
	ra, rb := rasterOf(a), rasterOf(b)
	if len(ra.pix) == 0 || len(ra.pix) != len(rb.pix) {
		return 0
	}
	sum := 0.0
	for i := range ra.pix {
		d := float64(ra.pix[i]) - float64(rb.pix[i])
		sum += d * d
	}
	mse := sum / float64(len(ra.pix))
	if mse == 0 {
		return maxPSNR
	}
	return 20 * math.Log10(255/math.Sqrt(mse))
}

// SSIM 高斯窗口（11, σ=1.5）局部统计的结构相似度，对全部窗口取平均
func SSIM(a, b gocv.Mat) (float64, error) {
	fa := gocv.NewMat()
	defer fa.Close()
	a.ConvertTo(&fa, gocv.MatTypeCV64F)
	fb := gocv.NewMat()
	defer fb.Close()
	b.ConvertTo(&fb, gocv.MatTypeCV64F)

	aa := gocv.NewMat()
	defer aa.Close()
	gocv.Multiply(fa, fa, &aa)
	bb := gocv.NewMat()
	defer bb.Close()
	gocv.Multiply(fb, fb, &bb)
	ab := gocv.NewMat()
	defer ab.Close()
	gocv.Multiply(fa, fb, &ab)

	window := func(src gocv.Mat) ([]float64, gocv.Mat, error) {
		dst := gocv.NewMat()
		gocv.GaussianBlur(src, &dst, image.Point{X: ssimWindow, Y: ssimWindow}, ssimSigma, ssimSigma, gocv.BorderReflect101)
		data, err := dst.DataPtrFloat64()
		return data, dst, err
	}

	names := []string{"mu_a", "mu_b", "sigma_aa", "sigma_bb", "sigma_ab"}
	stats := make([][]float64, len(names))
	for i, src := range []gocv.Mat{fa, fb, aa, bb, ab} {
		data, m, err := window(src)
		defer m.Close()
		if err != nil {
			return 0, fmt.Errorf("ssim %s: %w", names[i], err)
		}
		stats[i] = data
	}

	muA, muB, sAA, sBB, sAB := stats[0], stats[1], stats[2], stats[3], stats[4]
	if len(muA) == 0 {
		return 0, fmt.Errorf("ssim on empty image")
	}
	total := 0.0
	for i := range muA {
		ma, mb := muA[i], muB[i]
		varA := sAA[i] - ma*ma
		varB := sBB[i] - mb*mb
		cov := sAB[i] - ma*mb
		num := (2*ma*mb + ssimC1) * (2*cov + ssimC2)
		den := (ma*ma + mb*mb + ssimC1) * (varA + varB + ssimC2)
		total += num / den
	}
	return math.Min(total/float64(len(muA)), ssimMaxValue), nil
}

// Verdict 由 PSNR 与 SSIM 得出评价等级
func Verdict(psnr, ssim float64) string {
	switch {
	case psnr > 35 && ssim > 0.9:
		return model.VerdictExcellent
	case psnr > 25 && ssim > 0.8:
		return model.VerdictGood
	case psnr > 20 && ssim > 0.7:
		return model.VerdictModerate
	default:
		return model.VerdictPoor
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
