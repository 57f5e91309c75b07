package service

import (
	"image/color"
	"testing"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// gradient 偶数列偏绿，奇数列偏红，绿色占比约一半
func gradient(x, y int) color.NRGBA {
	if x%2 == 0 {
		return color.NRGBA{R: uint8(x * 2), G: uint8(100 + y*2), B: uint8(x + y), A: 255}
	}
	return color.NRGBA{R: 200, G: uint8(50 + y), B: uint8(60 + x), A: 255}
}

func TestContrastEnhancerEnhance(t *testing.T) {
	enhancer := NewContrastEnhancer(config.DefaultPreprocessConfig())

	img := toMat(t, paint(64, 48, gradient))
	defer img.Close()
	before := img.ToBytes()

	first, err := enhancer.Enhance(img)
	require.NoError(t, err)
	defer first.Close()
	second, err := enhancer.Enhance(img)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 64, first.Cols())
	assert.Equal(t, 48, first.Rows())
	assert.Equal(t, 3, first.Channels())
	assert.Equal(t, first.ToBytes(), second.ToBytes(), "enhancement is deterministic")
	assert.Equal(t, before, img.ToBytes(), "input must not be modified")
	assert.NotEqual(t, before, first.ToBytes())
}

func TestContrastEnhancerRejectsEmpty(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	out, err := NewContrastEnhancer(config.DefaultPreprocessConfig()).Enhance(empty)
	defer out.Close()
	assert.ErrorIs(t, err, ErrEmptyImage)
}
