package service

import (
	"math"
	"testing"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solidImage(t *testing.T, rows, cols int, r, g, b uint8) gocv.Mat {
	t.Helper()
	img := newRaster(rows, cols, 3)
	for i := 0; i < rows*cols; i++ {
		img.pix[i*3], img.pix[i*3+1], img.pix[i*3+2] = r, g, b
	}
	m, err := img.mat()
	require.NoError(t, err)
	return m
}

// gradientImage 平滑的彩色渐变，没有强边缘
func gradientImage(t *testing.T, rows, cols int) gocv.Mat {
	t.Helper()
	img := newRaster(rows, cols, 3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := (y*cols + x) * 3
			img.pix[i] = uint8(60 + 100*x/cols)
			img.pix[i+1] = uint8(70 + 90*y/rows)
			img.pix[i+2] = uint8(110 + 40*(x+y)/(rows+cols))
		}
	}
	m, err := img.mat()
	require.NoError(t, err)
	return m
}

// paintBlock 把矩形区域涂黑，模拟损伤
func paintBlock(t *testing.T, img gocv.Mat, x0, y0, x1, y1 int) gocv.Mat {
	t.Helper()
	r := rasterOf(img)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			for c := 0; c < r.channels; c++ {
				r.pix[(y*r.cols+x)*r.channels+c] = 0
			}
		}
	}
	m, err := r.mat()
	require.NoError(t, err)
	return m
}

// hardMask 未经形态学处理的矩形掩码
func hardMask(t *testing.T, rows, cols, x0, y0, x1, y1 int) gocv.Mat {
	t.Helper()
	r := newRaster(rows, cols, 1)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r.pix[y*cols+x] = 255
		}
	}
	m, err := r.mat()
	require.NoError(t, err)
	return m
}

func blockMask(t *testing.T, rows, cols, x0, y0, x1, y1 int) Mask {
	t.Helper()
	hard := hardMask(t, rows, cols, x0, y0, x1, y1)
	defer hard.Close()
	return NewMaskBuilder(0).FromHard(hard, rows, cols)
}

// neutralParams 所有参数显式设为中性值，关闭全部自适应调整
func neutralParams() model.Parameters {
	return model.ParseParameters(map[string]any{
		model.KeyBrightness:        0,
		model.KeyContrast:          0,
		model.KeySharpness:         0,
		model.KeySaturation:        100,
		model.KeyNoiseReduction:    0,
		model.KeyDetailEnhancement: 0,
		model.KeyGamma:             1.0,
		model.KeyTemperature:       0,
		model.KeyTint:              0,
		model.KeyAutoWhiteBalance:  false,
	})
}

func meanAbsDiffInside(a, b gocv.Mat, mask gocv.Mat) float64 {
	ra, rb, rm := rasterOf(a), rasterOf(b), rasterOf(mask)
	sum, n := 0.0, 0
	for i, v := range rm.pix {
		if v == 0 {
			continue
		}
		for c := 0; c < ra.channels; c++ {
			d := float64(ra.pix[i*ra.channels+c]) - float64(rb.pix[i*rb.channels+c])
			if d < 0 {
				d = -d
			}
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func maxAbsDiffInside(a, b gocv.Mat, mask gocv.Mat) float64 {
	ra, rb, rm := rasterOf(a), rasterOf(b), rasterOf(mask)
	worst := 0.0
	for i, v := range rm.pix {
		if v == 0 {
			continue
		}
		for c := 0; c < ra.channels; c++ {
			d := math.Abs(float64(ra.pix[i*ra.channels+c]) - float64(rb.pix[i*rb.channels+c]))
			worst = math.Max(worst, d)
		}
	}
	return worst
}

func unchangedOutside(a, b gocv.Mat, mask gocv.Mat) bool {
	ra, rb, rm := rasterOf(a), rasterOf(b), rasterOf(mask)
	for i, v := range rm.pix {
		if v != 0 {
			continue
		}
		for c := 0; c < ra.channels; c++ {
			if ra.pix[i*ra.channels+c] != rb.pix[i*rb.channels+c] {
				return false
			}
		}
	}
	return true
}
