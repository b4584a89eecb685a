package service

import (
	"errors"
	"testing"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestEnhancer_NeutralParametersAreIdentity(t *testing.T) {
	img := gradientImage(t, 80, 120)
	defer img.Close()

	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, neutralParams(), a)
	defer out.Close()

	assert.Empty(t, steps)
	assert.Equal(t, img.ToBytes(), out.ToBytes())
}

func TestEnhancer_DarkImageAutoBrightened(t *testing.T) {
	img := solidImage(t, 40, 40, 30, 30, 30)
	defer img.Close()

	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, model.DefaultParameters(), a)
	defer out.Close()

	assert.Contains(t, steps, StepBrightnessContrast)
	assert.Equal(t, uint8(50), out.ToBytes()[0])
}

func TestEnhancer_ExplicitZeroBrightnessSuppressesAuto(t *testing.T) {
	img := solidImage(t, 40, 40, 30, 30, 30)
	defer img.Close()

	p := model.DefaultParameters().With(model.KeyBrightness, 0)
	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, p, a)
	defer out.Close()

	assert.NotContains(t, steps, StepBrightnessContrast)
	assert.Equal(t, img.ToBytes(), out.ToBytes())
}

func TestEnhancer_ColorCastTriggersWhiteBalanceUnlessDisabled(t *testing.T) {
	img := solidImage(t, 40, 40, 200, 100, 100)
	defer img.Close()
	a := NewImageAnalyzer().Analyze(img)

	p := neutralParams().With(model.KeyAutoWhiteBalance, nil)
	// nil 无法解析，其余参数仍为显式中性值
	out, steps := NewEnhancer().Apply(img, p, a)
	defer out.Close()
	assert.Contains(t, steps, StepWhiteBalance)
	px := out.ToBytes()
	assert.InDelta(t, int(px[0]), int(px[1]), 2)

	out2, steps2 := NewEnhancer().Apply(img, neutralParams(), a)
	defer out2.Close()
	assert.NotContains(t, steps2, StepWhiteBalance)
}

func TestEnhancer_StepsRunInFixedOrder(t *testing.T) {
	img := gradientImage(t, 60, 60)
	defer img.Close()

	p := neutralParams().
		With(model.KeyTemperature, 20).
		With(model.KeyContrast, 10).
		With(model.KeyGamma, 1.2).
		With(model.KeySaturation, 120)
	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, p, a)
	defer out.Close()

	assert.Equal(t, []string{StepBrightnessContrast, StepGamma, StepSaturation, StepTemperatureTint}, steps)
	assert.Equal(t, img.Rows(), out.Rows())
	assert.Equal(t, img.Cols(), out.Cols())
	assert.Equal(t, 3, out.Channels())
}

func TestEnhancer_OutOfRangeSaturationClamped(t *testing.T) {
	p := model.ParseParameters(map[string]any{model.KeySaturation: "250"})
	require.Equal(t, 200, p.Saturation)

	img := gradientImage(t, 40, 40)
	defer img.Close()
	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, neutralParams().With(model.KeySaturation, "250"), a)
	defer out.Close()
	assert.Contains(t, steps, StepSaturation)
}

func TestBrightnessContrast(t *testing.T) {
	img := solidImage(t, 4, 4, 100, 100, 100)
	defer img.Close()

	out, err := BrightnessContrast(img, 10, 50)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, uint8(160), out.ToBytes()[0])
}

func TestGamma(t *testing.T) {
	img := solidImage(t, 4, 4, 64, 64, 64)
	defer img.Close()

	brighter, err := Gamma(img, 2.0)
	require.NoError(t, err)
	defer brighter.Close()
	assert.Greater(t, brighter.ToBytes()[0], uint8(64))

	_, err = Gamma(img, 0)
	assert.Error(t, err)
}

func TestTemperatureTint(t *testing.T) {
	img := solidImage(t, 4, 4, 100, 100, 100)
	defer img.Close()

	out, err := TemperatureTint(img, 50, 0)
	require.NoError(t, err)
	defer out.Close()
	px := out.ToBytes()
	assert.Greater(t, px[0], uint8(100))
	assert.Equal(t, uint8(100), px[1])
	assert.Less(t, px[2], uint8(100))
}

func TestSaturationZeroGivesGray(t *testing.T) {
	img := solidImage(t, 4, 4, 200, 80, 40)
	defer img.Close()

	out, err := Saturation(img, 0)
	require.NoError(t, err)
	defer out.Close()
	px := out.ToBytes()
	assert.Equal(t, px[0], px[1])
	assert.Equal(t, px[1], px[2])
}

func TestDenoiseKeepsShape(t *testing.T) {
	img := gradientImage(t, 32, 48)
	defer img.Close()

	out, err := Denoise(img, 50)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 32, out.Rows())
	assert.Equal(t, 48, out.Cols())
	assert.Equal(t, 3, out.Channels())
}

func TestEnhancer_NeutralToneKeysOnCleanImage(t *testing.T) {
	img := gradientImage(t, 64, 64)
	defer img.Close()

	p := model.ParseParameters(map[string]any{
		model.KeyBrightness: 0,
		model.KeyContrast:   0,
		model.KeySharpness:  0,
		model.KeySaturation: 100,
		model.KeyGamma:      1.0,
	})
	a := NewImageAnalyzer().Analyze(img)
	out, steps := NewEnhancer().Apply(img, p, a)
	defer out.Close()

	assert.Empty(t, steps)
	assert.Equal(t, img.ToBytes(), out.ToBytes())
}

func TestEnhancer_FailingStepKeepsInput(t *testing.T) {
	img := gradientImage(t, 30, 30)
	defer img.Close()

	brighten := func(src gocv.Mat) (gocv.Mat, error) { return BrightnessContrast(src, 10, 0) }
	steps := []enhancementStep{
		{name: "fails", enabled: true, apply: func(gocv.Mat) (gocv.Mat, error) { return gocv.NewMat(), errors.New("boom") }},
		{name: "panics", enabled: true, apply: func(gocv.Mat) (gocv.Mat, error) { panic("boom") }},
		{name: "empty", enabled: true, apply: func(gocv.Mat) (gocv.Mat, error) { return gocv.NewMat(), nil }},
		{name: StepBrightnessContrast, enabled: true, apply: brighten},
	}
	out, applied := NewEnhancer().run(img, steps)
	defer out.Close()

	assert.Equal(t, []string{StepBrightnessContrast}, applied)
	want, err := brighten(img)
	require.NoError(t, err)
	defer want.Close()
	assert.Equal(t, want.ToBytes(), out.ToBytes())
}

func TestEnhancer_AllStepsFailReturnsCopy(t *testing.T) {
	img := gradientImage(t, 30, 30)
	defer img.Close()

	out, applied := NewEnhancer().run(img, []enhancementStep{
		{name: "panics", enabled: true, apply: func(gocv.Mat) (gocv.Mat, error) { panic("boom") }},
	})
	defer out.Close()

	assert.Empty(t, applied)
	assert.Equal(t, img.ToBytes(), out.ToBytes())
}

func TestEnhancer_NoisyImageBoostsDenoise(t *testing.T) {
	e := NewEnhancer()
	noisy := model.ImageAnalysis{NoiseLevel: 0.5}

	assert.Equal(t, 25.0, e.denoiseStrength(model.DefaultParameters(), noisy))
	assert.Equal(t, maxAutoDenoise, e.denoiseStrength(model.DefaultParameters(), model.ImageAnalysis{NoiseLevel: 3}))
	assert.Zero(t, e.denoiseStrength(model.DefaultParameters(), model.ImageAnalysis{NoiseLevel: 0.3}))
	assert.Zero(t, e.denoiseStrength(model.DefaultParameters().With(model.KeyNoiseReduction, 0), noisy))
}

func TestEnhancer_GrainyImageHalvesSharpening(t *testing.T) {
	e := NewEnhancer()
	p := model.DefaultParameters().With(model.KeySharpness, 40)

	assert.InDelta(t, 0.6, e.sharpenAmount(p, model.ImageAnalysis{NoiseLevel: 0.1}), 1e-9)
	assert.InDelta(t, 0.3, e.sharpenAmount(p, model.ImageAnalysis{NoiseLevel: 0.5}), 1e-9)
	// 柔化不受噪声影响
	soft := model.DefaultParameters().With(model.KeySharpness, -40)
	assert.InDelta(t, -0.4, e.sharpenAmount(soft, model.ImageAnalysis{NoiseLevel: 0.5}), 1e-9)
}

func TestEnhancer_BusyImageLimitsSaturationAndDetail(t *testing.T) {
	e := NewEnhancer()
	busy := model.ImageAnalysis{EdgeDensity: 0.2}
	calm := model.ImageAnalysis{EdgeDensity: 0.05}

	vivid := model.DefaultParameters().With(model.KeySaturation, 180)
	assert.Equal(t, busySaturationLimit, e.effectiveSaturation(vivid, busy))
	assert.Equal(t, 180, e.effectiveSaturation(vivid, calm))
	muted := model.DefaultParameters().With(model.KeySaturation, 60)
	assert.Equal(t, 60, e.effectiveSaturation(muted, busy))

	detail := model.DefaultParameters().With(model.KeyDetailEnhancement, 50)
	assert.InDelta(t, 35.0, e.effectiveDetail(detail, busy), 1e-9)
	assert.InDelta(t, 50.0, e.effectiveDetail(detail, calm), 1e-9)
}
