package service

import (
	"fmt"
	"image"
	"math"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// 自适应阈值
const (
	noisyImageLevel     = 0.3
	grainyImageLevel    = 0.4
	maxAutoDenoise      = 70.0
	castRatioHigh       = 1.3
	castRatioLow        = 0.7
	darkImageLevel      = 0.3
	brightImageLevel    = 0.7
	autoBrightenDark    = 20
	autoDarkenBright    = -10
	busyEdgeDensity     = 0.15
	busySaturationLimit = 130
	largeImagePixels    = 1_000_000
)

// Enhancement step names, reported in metrics in execution order.
const (
	StepDenoise            = "noise_reduction"
	StepWhiteBalance       = "white_balance"
	StepBrightnessContrast = "brightness_contrast"
	StepGamma              = "gamma"
	StepSaturation         = "saturation"
	StepDetail             = "detail_enhancement"
	StepSharpness          = "sharpness"
	StepTemperatureTint    = "temperature_tint"
)

type enhancementStep struct {
	name    string
	enabled bool
	apply   func(src gocv.Mat) (gocv.Mat, error)
}

// Enhancer 负责按固定顺序执行增强步骤
type Enhancer struct{}

func NewEnhancer() *Enhancer {
	return &Enhancer{}
}

// Apply 依次执行降噪、白平衡、亮度对比度、伽马、饱和度、细节、锐化、色温色调。
// 参数处于中性值的步骤不执行；失败的步骤被跳过，流水线继续使用该步骤的输入
func (e *Enhancer) Apply(img gocv.Mat, p model.Parameters, a model.ImageAnalysis) (gocv.Mat, []string) {
	p = p.Clamped()
	return e.run(img, e.plan(img, p, a))
}

func (e *Enhancer) run(img gocv.Mat, steps []enhancementStep) (gocv.Mat, []string) {
	current := img.Clone()
	applied := make([]string, 0, len(steps))

	for _, step := range steps {
		if !step.enabled {
			continue
		}

		var out gocv.Mat
		err := guard(step.name, func() error {
			var err error
			out, err = step.apply(current)
			return err
		})
		if err == nil && out.Empty() {
			err = fmt.Errorf("step %s produced an empty buffer", step.name)
		}
		if err != nil {
			utils.Logger.Warn("enhancement step failed, keeping previous buffer",
				zap.String("step", step.name),
				zap.Error(err))
			out.Close()
			continue
		}

		current.Close()
		current = out
		applied = append(applied, step.name)
	}

	return current, applied
}

func (e *Enhancer) plan(img gocv.Mat, p model.Parameters, a model.ImageAnalysis) []enhancementStep {
	color := img.Channels() == 3

	denoise := e.denoiseStrength(p, a)
	whiteBalance := color && (p.AutoWhiteBalance || (!p.IsSet(model.KeyAutoWhiteBalance) && hasColorCast(a)))
	brightness, contrast := e.brightnessContrast(p, a)
	saturation := e.effectiveSaturation(p, a)
	detail := e.effectiveDetail(p, a)
	sharpen := e.sharpenAmount(p, a)

	return []enhancementStep{
		{
			name:    StepDenoise,
			enabled: denoise > 0,
			apply:   func(src gocv.Mat) (gocv.Mat, error) { return Denoise(src, denoise) },
		},
		{
			name:    StepWhiteBalance,
			enabled: whiteBalance,
			apply:   WhiteBalance,
		},
		{
			name:    StepBrightnessContrast,
			enabled: brightness != 0 || contrast != 0,
			apply: func(src gocv.Mat) (gocv.Mat, error) {
				return BrightnessContrast(src, brightness, contrast)
			},
		},
		{
			name:    StepGamma,
			enabled: p.Gamma != 1.0,
			apply:   func(src gocv.Mat) (gocv.Mat, error) { return Gamma(src, p.Gamma) },
		},
		{
			name:    StepSaturation,
			enabled: color && saturation != 100,
			apply:   func(src gocv.Mat) (gocv.Mat, error) { return Saturation(src, saturation) },
		},
		{
			name:    StepDetail,
			enabled: detail > 0,
			apply:   func(src gocv.Mat) (gocv.Mat, error) { return EnhanceDetail(src, detail) },
		},
		{
			name:    StepSharpness,
			enabled: sharpen != 0,
			apply:   func(src gocv.Mat) (gocv.Mat, error) { return UnsharpMask(src, sharpen) },
		},
		{
			name:    StepTemperatureTint,
			enabled: color && (p.Temperature != 0 || p.Tint != 0),
			apply: func(src gocv.Mat) (gocv.Mat, error) {
				return TemperatureTint(src, p.Temperature, p.Tint)
			},
		},
	}
}

// denoiseStrength 调用方未指定降噪强度且图像噪声较高时自动提升
func (e *Enhancer) denoiseStrength(p model.Parameters, a model.ImageAnalysis) float64 {
	strength := float64(p.NoiseReduction)
	if !p.IsSet(model.KeyNoiseReduction) && a.NoiseLevel > noisyImageLevel {
		strength = math.Max(strength, math.Min(a.NoiseLevel*50, maxAutoDenoise))
	}
	return strength
}

func hasColorCast(a model.ImageAnalysis) bool {
	for _, ratio := range a.ColorBalance {
		if ratio > castRatioHigh || ratio < castRatioLow {
			return true
		}
	}
	return false
}

// brightnessContrast 亮度和对比度都未指定时，过暗或过亮的图像做轻微校正
func (e *Enhancer) brightnessContrast(p model.Parameters, a model.ImageAnalysis) (int, int) {
	brightness, contrast := p.Brightness, p.Contrast
	if p.IsSet(model.KeyBrightness) || p.IsSet(model.KeyContrast) || brightness != 0 || contrast != 0 {
		return brightness, contrast
	}
	switch {
	case a.Brightness < darkImageLevel:
		brightness = autoBrightenDark
	case a.Brightness > brightImageLevel:
		brightness = autoDarkenBright
	}
	return brightness, contrast
}

// effectiveSaturation 细节丰富的图像限制饱和度增幅
func (e *Enhancer) effectiveSaturation(p model.Parameters, a model.ImageAnalysis) int {
	if p.Saturation > 100 && a.EdgeDensity > busyEdgeDensity {
		return min(p.Saturation, busySaturationLimit)
	}
	return p.Saturation
}

func (e *Enhancer) effectiveDetail(p model.Parameters, a model.ImageAnalysis) float64 {
	detail := float64(p.DetailEnhancement)
	if a.EdgeDensity > busyEdgeDensity {
		detail *= 0.7
	}
	return detail
}

// sharpenAmount 正值锐化，负值柔化；颗粒感强的图像锐化强度减半
func (e *Enhancer) sharpenAmount(p model.Parameters, a model.ImageAnalysis) float64 {
	k := float64(p.Sharpness) / 100
	if k > 0 {
		k *= 1.5
		if a.NoiseLevel > grainyImageLevel {
			k *= 0.5
		}
	}
	return k
}

// Denoise 非局部均值降噪，strength 取值 (0,100]
func Denoise(src gocv.Mat, strength float64) (gocv.Mat, error) {
	h := float32(3 + strength*0.12)
	search := 21
	if src.Rows()*src.Cols() > largeImagePixels {
		h *= 0.8
		search = 15
	}

	dst := gocv.NewMat()
	if src.Channels() == 1 {
		gocv.FastNlMeansDenoisingWithParams(src, &dst, h, 7, search)
		return dst, nil
	}

	// 彩色版本内部按 BGR 转 Lab
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(src, &bgr, gocv.ColorRGBToBGR)

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingColoredWithParams(bgr, &denoised, h, h, 7, search)
	if denoised.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("non-local means returned empty result")
	}

	gocv.CvtColor(denoised, &dst, gocv.ColorBGRToRGB)
	return dst, nil
}

// WhiteBalance 灰度世界假设，各通道缩放到全通道均值
func WhiteBalance(src gocv.Mat) (gocv.Mat, error) {
	r := rasterOf(src)
	if r.channels != 3 {
		return src.Clone(), nil
	}

	means, _ := r.channelMeans(nil)
	overall := (means[0] + means[1] + means[2]) / 3
	factors := make([]float64, 3)
	for c := range factors {
		factors[c] = clampFloat(overall/math.Max(means[c], 1.0), 0.5, 2.0)
	}

	return mapChannels(r, func(c int, v float64) float64 { return v * factors[c] })
}

// BrightnessContrast out = (1 + contrast/100) * in + brightness
func BrightnessContrast(src gocv.Mat, brightness, contrast int) (gocv.Mat, error) {
	factor := 1 + float64(contrast)/100
	offset := float64(brightness)
	return mapChannels(rasterOf(src), func(_ int, v float64) float64 { return factor*v + offset })
}

// Gamma out = 255 * (in/255)^(1/gamma)
func Gamma(src gocv.Mat, gamma float64) (gocv.Mat, error) {
	if gamma <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid gamma %v", gamma)
	}
	inv := 1 / gamma
	return mapChannels(rasterOf(src), func(_ int, v float64) float64 {
		return 255 * math.Pow(v/255, inv)
	})
}

// Saturation 按 value/100 缩放 HSV 的 S 通道
func Saturation(src gocv.Mat, value int) (gocv.Mat, error) {
	if src.Channels() != 3 {
		return src.Clone(), nil
	}
	scale := float64(value) / 100

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorRGBToHSV)

	r := rasterOf(hsv)
	for i := 1; i < len(r.pix); i += 3 {
		r.pix[i] = clampByte(float64(r.pix[i]) * scale)
	}
	scaled, err := r.mat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer scaled.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(scaled, &dst, gocv.ColorHSVToRGB)
	return dst, nil
}

// EnhanceDetail 在亮度通道上做 CLAHE，裁剪上限随强度增加
func EnhanceDetail(src gocv.Mat, strength float64) (gocv.Mat, error) {
	clip := 1 + strength/100*3
	clahe := gocv.NewCLAHEWithParams(clip, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	if src.Channels() == 1 {
		dst := gocv.NewMat()
		clahe.Apply(src, &dst)
		return dst, nil
	}

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(src, &lab, gocv.ColorRGBToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	if len(channels) != 3 {
		return gocv.NewMat(), fmt.Errorf("unexpected lab channel count %d", len(channels))
	}

	lightness := gocv.NewMat()
	clahe.Apply(channels[0], &lightness)
	channels[0].Close()
	channels[0] = lightness

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	dst := gocv.NewMat()
	gocv.CvtColor(merged, &dst, gocv.ColorLabToRGB)
	return dst, nil
}

// UnsharpMask out = img*(1+k) - blurred*k
func UnsharpMask(src gocv.Mat, k float64) (gocv.Mat, error) {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Point{X: 5, Y: 5}, 1.0, 1.0, gocv.BorderDefault)

	orig := rasterOf(src)
	blur := rasterOf(blurred)
	if len(orig.pix) != len(blur.pix) {
		return gocv.NewMat(), fmt.Errorf("blurred buffer size mismatch")
	}

	out := newRaster(orig.rows, orig.cols, orig.channels)
	for i := range orig.pix {
		out.pix[i] = clampByte(float64(orig.pix[i])*(1+k) - float64(blur.pix[i])*k)
	}
	return out.mat()
}

// TemperatureTint 色温反向缩放红蓝通道，色调缩放绿通道（正值偏品红）
func TemperatureTint(src gocv.Mat, temperature, tint int) (gocv.Mat, error) {
	r := rasterOf(src)
	if r.channels != 3 {
		return src.Clone(), nil
	}
	t := float64(temperature) / 100
	factors := []float64{
		1 + 0.2*t,
		1 - 0.003*float64(tint),
		1 - 0.2*t,
	}
	return mapChannels(r, func(c int, v float64) float64 { return v * factors[c] })
}

// mapChannels 按通道生成查找表并映射全部像素
func mapChannels(r raster, fn func(channel int, v float64) float64) (gocv.Mat, error) {
	luts := make([][256]uint8, r.channels)
	for c := range luts {
		for v := 0; v < 256; v++ {
			luts[c][v] = clampByte(fn(c, float64(v)))
		}
	}
	for i, v := range r.pix {
		r.pix[i] = luts[i%r.channels][v]
	}
	return r.mat()
}
