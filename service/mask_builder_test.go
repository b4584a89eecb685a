package service

import (
	"testing"

	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestMaskBuilder_SingleStrokeCoversDisk(t *testing.T) {
	mask := NewMaskBuilder(20).Build(400, 400, []model.StrokeSample{{X: 200, Y: 200, Radius: 10}})
	defer mask.Close()

	// π·10² ≈ 314
	pixels := mask.Pixels()
	assert.GreaterOrEqual(t, pixels, 274)
	assert.LessOrEqual(t, pixels, 354)
	assert.InDelta(t, float64(pixels)/160000, mask.Ratio(), 1e-9)
	assert.Equal(t, uint8(255), mask.Hard.GetUCharAt(200, 200))
	assert.Equal(t, uint8(0), mask.Hard.GetUCharAt(200, 220))
}

func TestMaskBuilder_NoStrokesGivesEmptyMask(t *testing.T) {
	mask := NewMaskBuilder(20).Build(400, 300, nil)
	defer mask.Close()

	assert.True(t, mask.Empty())
	assert.Equal(t, 400, mask.Hard.Rows())
	assert.Equal(t, 300, mask.Hard.Cols())
	assert.Zero(t, mask.Ratio())
}

func TestMaskBuilder_ClipsOutOfCanvasStrokes(t *testing.T) {
	mask := NewMaskBuilder(20).Build(100, 100, []model.StrokeSample{{X: -40, Y: 500, Radius: 8}})
	defer mask.Close()

	assert.False(t, mask.Empty())
	assert.Equal(t, uint8(255), mask.Hard.GetUCharAt(99, 0))
}

func TestMaskBuilder_HugeCoordinatesClipToFarEdge(t *testing.T) {
	strokes, _ := model.ParseStrokes([]any{map[string]any{"x": 1e20, "y": 5.0, "radius": 6.0}}, 10)
	mask := NewMaskBuilder(20).Build(100, 100, strokes)
	defer mask.Close()

	assert.Equal(t, uint8(255), mask.Hard.GetUCharAt(5, 99))
	assert.Equal(t, uint8(0), mask.Hard.GetUCharAt(5, 0))
}

func TestMaskBuilder_DefaultRadiusForMissingRadius(t *testing.T) {
	mask := NewMaskBuilder(20).Build(200, 200, []model.StrokeSample{{X: 100, Y: 100}})
	defer mask.Close()

	assert.Equal(t, uint8(255), mask.Hard.GetUCharAt(100, 115))
	assert.Equal(t, uint8(0), mask.Hard.GetUCharAt(100, 130))
}

func TestMaskBuilder_FeatheredCoversHard(t *testing.T) {
	mask := NewMaskBuilder(20).Build(120, 120, []model.StrokeSample{{X: 60, Y: 60, Radius: 15}})
	defer mask.Close()

	hard, feathered := rasterOf(mask.Hard), rasterOf(mask.Feathered)
	require.Equal(t, len(hard.pix), len(feathered.pix))
	softOnly := 0
	for i, v := range hard.pix {
		if v > 0 {
			assert.Greater(t, feathered.pix[i], uint8(127))
		} else if feathered.pix[i] > 0 {
			softOnly++
		}
	}
	assert.Positive(t, softOnly, "feather band extends past the hard mask")
}

func TestMaskBuilder_FromHardResizesMismatchedMask(t *testing.T) {
	r := newRaster(50, 50, 1)
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			r.pix[y*50+x] = 200
		}
	}
	src, err := r.mat()
	require.NoError(t, err)
	defer src.Close()

	mask := NewMaskBuilder(20).FromHard(src, 100, 100)
	defer mask.Close()

	assert.Equal(t, 100, mask.Hard.Rows())
	assert.Equal(t, 100, mask.Hard.Cols())
	assert.Equal(t, uint8(255), mask.Hard.GetUCharAt(50, 50))
	assert.Equal(t, uint8(0), mask.Hard.GetUCharAt(5, 5))
}

func TestMaskBuilder_FromHardAllZero(t *testing.T) {
	src := zeros(40, 40, gocv.MatTypeCV8UC1)
	defer src.Close()

	mask := NewMaskBuilder(20).FromHard(src, 40, 40)
	defer mask.Close()
	assert.True(t, mask.Empty())
}
