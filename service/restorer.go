package service

import (
	"fmt"
	"time"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// RestorerOptions 修复流水线的可调项
type RestorerOptions struct {
	DefaultBrushRadius int
	Patch              PatchOptions
	MultiscaleLevels   int
}

// Restorer 串联分析、增强、掩码、修复、颜色协调与质量评分。
// 不持有跨请求的可变状态，可被多个 goroutine 同时使用
type Restorer struct {
	analyzer   *ImageAnalyzer
	enhancer   *Enhancer
	masks      *MaskBuilder
	inpainter  *Inpainter
	harmonizer *ColorHarmonizer
	scorer     *QualityScorer
}

func NewRestorer(opts RestorerOptions) *Restorer {
	return &Restorer{
		analyzer:   NewImageAnalyzer(),
		enhancer:   NewEnhancer(),
		masks:      NewMaskBuilder(opts.DefaultBrushRadius),
		inpainter:  NewInpainter(opts.Patch, opts.MultiscaleLevels),
		harmonizer: NewColorHarmonizer(),
		scorer:     NewQualityScorer(),
	}
}

// Masks 返回掩码构建器
func (r *Restorer) Masks() *MaskBuilder {
	return r.masks
}

// RestorationResult 单次修复结果，调用方负责 Close
type RestorationResult struct {
	Processed gocv.Mat
	Mask      gocv.Mat // 硬掩码
	Analysis  model.ImageAnalysis
	Metrics   model.Metrics
}

func (r *RestorationResult) Close() {
	r.Processed.Close()
	r.Mask.Close()
}

// Restore 修复入口。strokes 为空时只做增强
func (r *Restorer) Restore(img gocv.Mat, strokes []model.StrokeSample, params model.Parameters) (*RestorationResult, error) {
	return r.run(img, params, func() Mask {
		return r.masks.Build(img.Rows(), img.Cols(), strokes)
	})
}

// RestoreWithMask 使用外部掩码图修复，尺寸不一致时掩码被缩放到图像尺寸
func (r *Restorer) RestoreWithMask(img, maskImg gocv.Mat, params model.Parameters) (*RestorationResult, error) {
	return r.run(img, params, func() Mask {
		return r.masks.FromHard(maskImg, img.Rows(), img.Cols())
	})
}

func (r *Restorer) run(img gocv.Mat, params model.Parameters, buildMask func() Mask) (res *RestorationResult, err error) {
	if img.Empty() {
		return nil, &RestorationError{Op: "restore", Reason: "image buffer is empty", Err: ErrLoad}
	}
	if ch := img.Channels(); ch != 1 && ch != 3 {
		return nil, &RestorationError{Op: "restore", Reason: fmt.Sprintf("unsupported channel count %d", ch), Err: ErrLoad}
	}

	var current gocv.Mat
	live := false
	defer func() {
		if rec := recover(); rec != nil {
			if live {
				current.Close()
			}
			utils.Logger.Error("restoration aborted", zap.Any("panic", rec))
			res = nil
			err = &RestorationError{Op: "restore", Reason: fmt.Sprint(rec)}
		}
	}()

	startTime := time.Now()
	params = params.Clamped()

	analysis := r.analyzer.Analyze(img)
	utils.Logger.Info("image analyzed",
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()),
		zap.Float64("brightness", analysis.Brightness),
		zap.Float64("noise_level", analysis.NoiseLevel),
		zap.Float64("edge_density", analysis.EdgeDensity),
		zap.String("complexity", complexityLevel(analysis)))

	var steps []string
	current, steps = r.enhancer.Apply(img, params, analysis)
	live = true
	metrics := model.Metrics{StepsApplied: steps}

	mask := buildMask()
	defer mask.Close()

	if !mask.Empty() {
		filled, report := r.inpainter.Inpaint(current, mask, params.InpaintingMethod, params.InpaintingRadius)
		current.Close()
		current = filled

		ratio := report.DamageRatio
		metrics.MaskUsed = true
		metrics.DamageRatio = &ratio
		metrics.MethodUsed = report.Method
		utils.Logger.Info("damage inpainted",
			zap.Float64("damage_ratio", ratio),
			zap.String("pass", string(report.Pass)),
			zap.String("method", report.Method),
			zap.Bool("failed", report.Failed))

		var harmonized gocv.Mat
		var factors []float64
		herr := guard("harmonize", func() error {
			var err error
			harmonized, factors, err = r.harmonizer.Harmonize(current, mask)
			return err
		})
		if herr != nil {
			utils.Logger.Warn("color harmonization failed, keeping inpainted buffer", zap.Error(herr))
			harmonized.Close()
		} else {
			current.Close()
			current = harmonized
			utils.Logger.Debug("fill region harmonized", zap.Float64s("factors", factors))
		}
	}

	current = r.sanitize(img, current)

	quality, serr := r.scorer.Score(img, current)
	if serr != nil {
		utils.Logger.Warn("quality scoring failed", zap.Error(serr))
		quality = model.QualityReport{Verdict: model.VerdictPoor}
	}
	metrics.PSNR = quality.PSNR
	metrics.SSIM = quality.SSIM
	metrics.ImprovementLevel = quality.Verdict
	metrics.ProcessingTime = round(time.Since(startTime).Seconds(), 3)

	utils.Logger.Info("image restored",
		zap.Duration("duration", time.Since(startTime)),
		zap.Float64("psnr", metrics.PSNR),
		zap.Float64("ssim", metrics.SSIM),
		zap.String("improvement_level", metrics.ImprovementLevel),
		zap.Strings("steps", steps),
		zap.Bool("mask_used", metrics.MaskUsed))

	return &RestorationResult{
		Processed: current,
		Mask:      mask.Hard.Clone(),
		Analysis:  analysis,
		Metrics:   metrics,
	}, nil
}

// sanitize 保证输出与输入同尺寸、同通道数，不满足时回退或缩放
func (r *Restorer) sanitize(original, current gocv.Mat) gocv.Mat {
	if current.Empty() {
		utils.Logger.Warn("pipeline produced an empty buffer, returning original")
		current.Close()
		return original.Clone()
	}
	if current.Channels() != original.Channels() {
		utils.Logger.Warn("channel count changed in pipeline, returning original",
			zap.Int("channels", current.Channels()))
		current.Close()
		return original.Clone()
	}
	if current.Rows() != original.Rows() || current.Cols() != original.Cols() {
		resized := resizeTo(current, original.Rows(), original.Cols(), gocv.InterpolationLinear)
		current.Close()
		return resized
	}
	return current
}
