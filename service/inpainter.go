package service

import (
	"fmt"
	"image"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Pass 自动模式下按损伤比例选择的修复方案
type Pass string

const (
	PassNone     Pass = "none"
	PassFast     Pass = "fast"
	PassQuality  Pass = "quality"
	PassHybrid   Pass = "hybrid"
	PassExplicit Pass = "explicit"
)

// 损伤比例分段，可调
const (
	FastPassMaxRatio    = 0.01
	QualityPassMaxRatio = 0.1
)

// 各方案的固定半径与权重
const (
	fastTeleaRadius    = 3
	hybridTeleaRadius  = 5
	hybridNSRadius     = 3
	hybridDetailRadius = 2
	hybridTeleaWeight  = 0.4
	hybridNSWeight     = 0.4
	hybridDetailWeight = 0.2
	// 损伤轮廓两侧各 4 像素内的边缘不做保护
	outlineKernel = 9
)

// SelectPass 按损伤比例选择方案
func SelectPass(ratio float64) Pass {
	switch {
	case ratio <= 0:
		return PassNone
	case ratio < FastPassMaxRatio:
		return PassFast
	case ratio < QualityPassMaxRatio:
		return PassQuality
	default:
		return PassHybrid
	}
}

// InpaintReport 修复过程说明
type InpaintReport struct {
	DamageRatio float64
	Pass        Pass
	Method      string
	Failed      bool
}

// PatchOptions 样本块填充的搜索上限
type PatchOptions struct {
	PatchSize     int
	SearchRadius  int
	SearchStride  int
	MaxIterations int
}

// DefaultPatchOptions 默认搜索上限
func DefaultPatchOptions() PatchOptions {
	return PatchOptions{PatchSize: 9, SearchRadius: 15, SearchStride: 2, MaxIterations: 200}
}

type fillFunc func(img, region, damage gocv.Mat, method model.InpaintingMethod, radius int, ratio float64) (gocv.Mat, Pass, string, error)

// Inpainter 负责按损伤比例选择并执行修复算法
type Inpainter struct {
	patch  PatchOptions
	levels int
	fill   fillFunc
}

func NewInpainter(patch PatchOptions, multiscaleLevels int) *Inpainter {
	def := DefaultPatchOptions()
	if patch.PatchSize < 3 {
		patch.PatchSize = def.PatchSize
	}
	if patch.PatchSize%2 == 0 {
		patch.PatchSize++
	}
	if patch.SearchRadius < 1 {
		patch.SearchRadius = def.SearchRadius
	}
	if patch.SearchStride < 1 {
		patch.SearchStride = def.SearchStride
	}
	if patch.MaxIterations < 1 {
		patch.MaxIterations = def.MaxIterations
	}
	if multiscaleLevels < 1 || multiscaleLevels > maxPyramidLevels {
		multiscaleLevels = maxPyramidLevels
	}
	in := &Inpainter{patch: patch, levels: multiscaleLevels}
	in.fill = in.dispatch
	return in
}

// Inpaint 修复 mask 标记的区域。算法选择依据硬掩码占比，填充范围为羽化带覆盖的区域，
// 再按羽化权重与原图融合。全零掩码时原样返回副本；算法失败时记录日志并返回输入副本
func (in *Inpainter) Inpaint(img gocv.Mat, mask Mask, method model.InpaintingMethod, radius int) (gocv.Mat, InpaintReport) {
	report := InpaintReport{Pass: PassNone, Method: string(PassNone)}
	if mask.Empty() {
		return img.Clone(), report
	}
	report.DamageRatio = mask.Ratio()
	radius = min(max(radius, 1), 20)

	region := mask.Support()
	defer region.Close()

	var filled gocv.Mat
	err := guard("inpaint", func() error {
		var err error
		filled, report.Pass, report.Method, err = in.fill(img, region, mask.Hard, method, radius, report.DamageRatio)
		return err
	})
	if err == nil && (filled.Empty() || filled.Rows() != img.Rows() || filled.Cols() != img.Cols()) {
		err = fmt.Errorf("inpainting produced an invalid buffer")
	}
	if err != nil {
		utils.Logger.Warn("inpainting failed, keeping enhanced buffer",
			zap.String("method", string(method)),
			zap.Float64("damage_ratio", report.DamageRatio),
			zap.Error(err))
		filled.Close()
		report.Failed = true
		return img.Clone(), report
	}
	defer filled.Close()

	out, err := compositeFill(img, filled, mask)
	if err != nil {
		utils.Logger.Warn("seam blending failed, using raw fill", zap.Error(err))
		return filled.Clone(), report
	}
	return out, report
}

func (in *Inpainter) dispatch(img, region, damage gocv.Mat, method model.InpaintingMethod, radius int, ratio float64) (gocv.Mat, Pass, string, error) {
	switch method {
	case model.MethodTelea:
		return teleaFill(img, region, radius), PassExplicit, "telea", nil
	case model.MethodNS:
		filled, protected := nsFill(img, region, damage, radius)
		protected.Close()
		return filled, PassExplicit, "ns", nil
	case model.MethodPatch:
		filled, err := in.patchFill(img, region)
		return filled, PassExplicit, "patch", err
	case model.MethodMultiscale:
		filled, err := in.multiscaleFill(img, region, radius)
		return filled, PassExplicit, "multiscale", err
	}

	pass := SelectPass(ratio)
	switch pass {
	case PassFast:
		return teleaFill(img, region, fastTeleaRadius), pass, "telea_fast", nil
	case PassQuality:
		filled, err := qualityFill(img, region, damage, radius)
		return filled, pass, "ns_telea_quality", err
	default:
		filled, err := hybridFill(img, region, damage)
		return filled, pass, "hybrid_blend", err
	}
}

// teleaFill 快速行进法
func teleaFill(img, mask gocv.Mat, radius int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Inpaint(img, mask, &dst, float32(radius), gocv.Telea)
	return dst
}

// nsFill Navier-Stokes 修复。先从掩码中去掉检测到的结构边缘（Canny 后膨胀一次），
// 这些像素保持原值；返回的第二个值为实际修复的掩码
func nsFill(img, mask, damage gocv.Mat, radius int) (gocv.Mat, gocv.Mat) {
	protected := protectEdges(img, mask, damage)
	if countNonZero(protected) == 0 {
		return img.Clone(), protected
	}
	dst := gocv.NewMat()
	gocv.Inpaint(img, protected, &dst, float32(radius), gocv.NS)
	return dst, protected
}

// protectEdges 掩码去掉边缘像素。损伤轮廓附近的边缘由损伤本身产生，不视为图像结构
func protectEdges(img, mask, damage gocv.Mat) gocv.Mat {
	edges := detectEdges(img, 50, 150, true)
	defer edges.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: outlineKernel, Y: outlineKernel})
	defer kernel.Close()

	outline := gocv.NewMat()
	defer outline.Close()
	gocv.MorphologyEx(damage, &outline, gocv.MorphGradient, kernel)

	structural := gocv.NewMat()
	defer structural.Close()
	gocv.Subtract(edges, outline, &structural)

	protected := gocv.NewMat()
	gocv.Subtract(mask, structural, &protected)
	return protected
}

// qualityFill NS 首轮修复后，用更小半径的 Telea 在同一区域细化。
// NS 修复过的像素取两轮平均，被边缘保护跳过的像素取细化结果
func qualityFill(img, mask, damage gocv.Mat, radius int) (gocv.Mat, error) {
	first, protected := nsFill(img, mask, damage, radius)
	defer first.Close()
	defer protected.Close()

	refined := teleaFill(first, mask, max(1, radius/2))
	defer refined.Close()

	f, r, p := rasterOf(first), rasterOf(refined), rasterOf(protected)
	m := rasterOf(mask)
	if len(f.pix) != len(r.pix) {
		return gocv.NewMat(), fmt.Errorf("refinement buffer size mismatch")
	}

	out := f.clone()
	ch := f.channels
	for i := 0; i < f.rows*f.cols; i++ {
		if m.pix[i] == 0 {
			continue
		}
		for c := 0; c < ch; c++ {
			j := i*ch + c
			if p.pix[i] > 0 {
				out.pix[j] = clampByte((float64(f.pix[j]) + float64(r.pix[j])) / 2)
			} else {
				out.pix[j] = r.pix[j]
			}
		}
	}
	return out.mat()
}

// hybridFill 三种修复结果按 0.4/0.4/0.2 加权
func hybridFill(img, mask, damage gocv.Mat) (gocv.Mat, error) {
	telea := teleaFill(img, mask, hybridTeleaRadius)
	defer telea.Close()
	ns, protected := nsFill(img, mask, damage, hybridNSRadius)
	defer ns.Close()
	defer protected.Close()
	detail := teleaFill(img, mask, hybridDetailRadius)
	defer detail.Close()

	return blendHybrid(rasterOf(telea), rasterOf(ns), rasterOf(detail), rasterOf(mask), rasterOf(protected))
}

// blendHybrid 加权融合。边缘保护跳过的掩码像素没有 NS 结果，
// 在两路 Telea 之间按原权重重新归一
func blendHybrid(telea, ns, detail, mask, protected raster) (gocv.Mat, error) {
	if len(telea.pix) != len(ns.pix) || len(telea.pix) != len(detail.pix) {
		return gocv.NewMat(), fmt.Errorf("hybrid buffer size mismatch")
	}
	pixels := telea.rows * telea.cols
	if len(mask.pix) != pixels || len(protected.pix) != pixels {
		return gocv.NewMat(), fmt.Errorf("hybrid mask size mismatch")
	}

	teleaShare := hybridTeleaWeight / (hybridTeleaWeight + hybridDetailWeight)
	out := newRaster(telea.rows, telea.cols, telea.channels)
	ch := telea.channels
	for i := 0; i < pixels; i++ {
		skipped := mask.pix[i] > 0 && protected.pix[i] == 0
		for c := 0; c < ch; c++ {
			j := i*ch + c
			if skipped {
				out.pix[j] = clampByte(teleaShare*float64(telea.pix[j]) + (1-teleaShare)*float64(detail.pix[j]))
				continue
			}
			out.pix[j] = clampByte(hybridTeleaWeight*float64(telea.pix[j]) +
				hybridNSWeight*float64(ns.pix[j]) +
				hybridDetailWeight*float64(detail.pix[j]))
		}
	}
	return out.mat()
}

// compositeFill 以羽化掩码融合修复结果：硬掩码内完全取修复值，
// 羽化带内按权重过渡，其余像素保持原值
func compositeFill(orig, filled gocv.Mat, mask Mask) (gocv.Mat, error) {
	o, f := rasterOf(orig), rasterOf(filled)
	h, fe := rasterOf(mask.Hard), rasterOf(mask.Feathered)
	if len(o.pix) != len(f.pix) || len(h.pix) != o.rows*o.cols {
		return gocv.NewMat(), fmt.Errorf("composite buffer size mismatch")
	}
	hasFeather := len(fe.pix) == len(h.pix)

	out := o.clone()
	ch := o.channels
	for i := 0; i < o.rows*o.cols; i++ {
		w := 0.0
		switch {
		case h.pix[i] > 0:
			w = 1
		case hasFeather && fe.pix[i] > 0:
			w = float64(fe.pix[i]) / 255
		default:
			continue
		}
		for c := 0; c < ch; c++ {
			j := i*ch + c
			out.pix[j] = clampByte(float64(o.pix[j])*(1-w) + float64(f.pix[j])*w)
		}
	}
	return out.mat()
}
