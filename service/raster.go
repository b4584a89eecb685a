package service

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// raster 是 Mat 中8位采样的独立副本，逐像素运算都在它上面完成
type raster struct {
	rows, cols, channels int
	pix                  []uint8
}

func rasterOf(m gocv.Mat) raster {
	return raster{rows: m.Rows(), cols: m.Cols(), channels: m.Channels(), pix: m.ToBytes()}
}

func newRaster(rows, cols, channels int) raster {
	return raster{rows: rows, cols: cols, channels: channels, pix: make([]uint8, rows*cols*channels)}
}

func (r raster) clone() raster {
	pix := make([]uint8, len(r.pix))
	copy(pix, r.pix)
	return raster{rows: r.rows, cols: r.cols, channels: r.channels, pix: pix}
}

// mat 生成拥有独立内存的 Mat
func (r raster) mat() (gocv.Mat, error) {
	mt := gocv.MatTypeCV8UC1
	if r.channels == 3 {
		mt = gocv.MatTypeCV8UC3
	}
	m, err := gocv.NewMatFromBytes(r.rows, r.cols, mt, r.pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build mat %dx%dx%d: %w", r.cols, r.rows, r.channels, err)
	}
	defer m.Close()
	return m.Clone(), nil
}

// channelMeans 计算各通道均值，mask 非空时只统计 mask 中非零的像素
func (r raster) channelMeans(mask []uint8) ([]float64, int) {
	sums := make([]float64, r.channels)
	count := 0
	for i := 0; i < r.rows*r.cols; i++ {
		if mask != nil && mask[i] == 0 {
			continue
		}
		base := i * r.channels
		for c := 0; c < r.channels; c++ {
			sums[c] += float64(r.pix[base+c])
		}
		count++
	}
	if count > 0 {
		for c := range sums {
			sums[c] /= float64(count)
		}
	}
	return sums, count
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// toGray 转为单通道灰度图，原图已是单通道时返回副本
func toGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(img, &gray, gocv.ColorRGBToGray)
	return gray
}

// zeros 全零 Mat，NewMatWithSize 不会初始化内存
func zeros(rows, cols int, mt gocv.MatType) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, mt)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return m
}

// countNonZero 统计掩码前景像素
func countNonZero(mask gocv.Mat) int {
	if mask.Empty() {
		return 0
	}
	return gocv.CountNonZero(mask)
}

// detectEdges Canny 边缘并做一次 3x3 膨胀
func detectEdges(img gocv.Mat, low, high float32, dilate bool) gocv.Mat {
	gray := toGray(img)
	defer gray.Close()

	edges := gocv.NewMat()
	gocv.Canny(gray, &edges, low, high)
	if !dilate {
		return edges
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()

	dilated := gocv.NewMat()
	gocv.Dilate(edges, &dilated, kernel)
	edges.Close()
	return dilated
}

// DecodeImage 解码上传的图像为 RGB Mat
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image buffer", ErrLoad)
	}
	bgr, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || bgr.Empty() {
		bgr.Close()
		return gocv.NewMat(), fmt.Errorf("%w: failed to decode image", ErrLoad)
	}
	defer bgr.Close()

	rgb := gocv.NewMat()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return rgb, nil
}

// DecodeMask 解码外部提供的掩码图为单通道 Mat
func DecodeMask(data []byte) (gocv.Mat, error) {
	m, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil || m.Empty() {
		m.Close()
		return gocv.NewMat(), fmt.Errorf("%w: failed to decode mask", ErrLoad)
	}
	return m, nil
}

// EncodeImage 将 RGB 或灰度 Mat 编码为 jpg/png
func EncodeImage(img gocv.Mat, ext gocv.FileExt, quality int) ([]byte, error) {
	out := img
	if img.Channels() == 3 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(img, &bgr, gocv.ColorRGBToBGR)
		out = bgr
	}

	var params []int
	if ext == gocv.JPEGFileExt {
		params = []int{int(gocv.IMWriteJpegQuality), quality}
	}
	buf, err := gocv.IMEncodeWithParams(ext, out, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	encoded := make([]byte, len(data))
	copy(encoded, data)
	return encoded, nil
}

// resizeTo 缩放到指定尺寸
func resizeTo(img gocv.Mat, rows, cols int, interp gocv.InterpolationFlags) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: cols, Y: rows}, 0, 0, interp)
	return dst
}

// smartResize 智能缩放图像以适应最大尺寸
func smartResize(img gocv.Mat, maxSize int) (gocv.Mat, float64) {
	width := img.Cols()
	height := img.Rows()
	maxDim := max(width, height)
	if maxSize <= 0 || maxDim <= maxSize {
		return img.Clone(), 1.0
	}

	scale := float64(maxSize) / float64(maxDim)
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	return resizeTo(img, newHeight, newWidth, gocv.InterpolationArea), scale
}
