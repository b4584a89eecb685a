package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarmonizeFactor(t *testing.T) {
	assert.Equal(t, 1.0, HarmonizeFactor(100, 96))
	assert.Equal(t, 1.0, HarmonizeFactor(100, 105))
	assert.InDelta(t, 1.1, HarmonizeFactor(110, 100), 1e-9)
	assert.Equal(t, 1.3, HarmonizeFactor(200, 100))
	assert.Equal(t, 0.7, HarmonizeFactor(50, 100))
	assert.Equal(t, 1.3, HarmonizeFactor(20, 0))
}

func TestHarmonize_EmptyMaskIsCopy(t *testing.T) {
	img := gradientImage(t, 30, 30)
	defer img.Close()
	mask := EmptyMask(30, 30)
	defer mask.Close()

	out, factors, err := NewColorHarmonizer().Harmonize(img, mask)
	require.NoError(t, err)
	defer out.Close()
	assert.Nil(t, factors)
	assert.Equal(t, img.ToBytes(), out.ToBytes())
}

func TestHarmonize_PullsFillTowardsBorder(t *testing.T) {
	base := solidImage(t, 60, 60, 100, 100, 100)
	defer base.Close()

	mask := blockMask(t, 60, 60, 20, 20, 40, 40)
	defer mask.Close()

	// 只给硬掩码内的像素染色，边界带保持 100
	r := rasterOf(base)
	for i, v := range rasterOf(mask.Hard).pix {
		if v > 0 {
			r.pix[i*3], r.pix[i*3+1], r.pix[i*3+2] = 70, 100, 130
		}
	}
	img, err := r.mat()
	require.NoError(t, err)
	defer img.Close()

	out, factors, err := NewColorHarmonizer().Harmonize(img, mask)
	require.NoError(t, err)
	defer out.Close()

	require.Len(t, factors, 3)
	assert.Equal(t, 1.3, factors[0])
	assert.Equal(t, 1.0, factors[1])
	assert.InDelta(t, 100.0/130, factors[2], 1e-9)

	px := rasterOf(out).pix[(30*60+30)*3:]
	assert.Equal(t, uint8(91), px[0])
	assert.Equal(t, uint8(100), px[1])
	assert.Equal(t, uint8(100), px[2])
	// 掩码外不变
	assert.Equal(t, uint8(100), rasterOf(out).pix[0])
}
