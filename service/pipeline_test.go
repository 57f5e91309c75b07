package service

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newTestPipeline(t *testing.T, m Matting) *Pipeline {
	t.Helper()
	p, err := NewPipeline(config.DefaultPreprocessConfig(), testMattingConfig(), m)
	require.NoError(t, err)
	return p
}

// halfLeaf 左半边绿色叶片，右半边白色背景
func halfLeaf(x, _ int) color.NRGBA {
	if x < 40 {
		return leafGreen
	}
	return white
}

func assertTensor(t *testing.T, res *Result) {
	t.Helper()
	require.Len(t, res.Tensor, 224*224*3)
	assert.Equal(t, 224, res.Width)
	assert.Equal(t, 224, res.Height)
	for i, v := range res.Tensor {
		if v < 0 || v > 1 {
			t.Fatalf("tensor[%d] = %v out of [0,1]", i, v)
		}
	}
}

func TestPipelineNotALeaf(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, paint(50, 40, solid(red))))

	assert.Equal(t, OutcomeNotALeaf, res.Outcome)
	assert.Empty(t, res.Tensor)
	assert.False(t, res.HasTensor())
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestPipelineDecodeFailure(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}
	p := newTestPipeline(t, stub)

	for _, data := range [][]byte{nil, []byte("not an image at all")} {
		res := p.Process(context.Background(), data)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.ErrorIs(t, res.Err(), ErrDecode)
		assert.Equal(t, SegmentationNone, res.Segmentation)
		assert.Empty(t, res.Tensor)
	}
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestPipelinePureLeafBypassesMatting(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, paint(64, 48, solid(leafGreen))))

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, SegmentationSkipped, res.Segmentation)
	assert.InDelta(t, 1.0, res.GreenFraction, 1e-9)
	assert.Equal(t, int32(0), stub.calls.Load())
	assertTensor(t, res)
}

func TestPipelineSegmentedLeaf(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(x, _ int) bool { return x < 40 })}
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, paint(80, 60, halfLeaf)))

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, SegmentationApplied, res.Segmentation)
	assert.Equal(t, int32(1), stub.calls.Load())
	assertTensor(t, res)

	// 80x60 缩放到 224x168，上下各 28 行白边
	assert.InDelta(t, 1.0, res.Tensor[0], 1e-6)
	assert.InDelta(t, 1.0, res.Tensor[(27*224)*3+1], 1e-6)
	assert.Less(t, res.Tensor[(100*224)*3], float32(0.9))
}

func TestPipelineBlankSegmentationUsesOriginal(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(int, int) bool { return false })}
	src := paint(80, 60, halfLeaf)
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, src))

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, SegmentationBlankFallback, res.Segmentation)
	assertTensor(t, res)

	// 期望值：原图 → 增强 → 缩放 → 归一化
	img := toMat(t, src)
	defer img.Close()
	enhanced, err := NewContrastEnhancer(config.DefaultPreprocessConfig()).Enhance(img)
	require.NoError(t, err)
	defer enhanced.Close()
	resized, err := NewAspectPreservingResizer().Resize(enhanced, 224, 224)
	require.NoError(t, err)
	defer resized.Close()
	want, err := normalize(resized)
	require.NoError(t, err)

	assert.Equal(t, want, res.Tensor)
}

func TestPipelineMattingFailureStillSucceeds(t *testing.T) {
	stub := &stubMatting{fn: func(context.Context, image.Image) (image.Image, error) {
		return nil, errors.New("unavailable")
	}}
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, paint(80, 60, halfLeaf)))

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, SegmentationMattingFailed, res.Segmentation)
	assertTensor(t, res)
}

func TestPipelineStageFailureUsesStretchedResize(t *testing.T) {
	// 1000x1 的图等比缩放后高度为 0，主路径失败
	stub := &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}
	res := newTestPipeline(t, stub).Process(context.Background(), encodePNG(t, paint(1000, 1, solid(leafGreen))))

	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Contains(t, res.Reason, "scaled size")
	assertTensor(t, res)

	// 拉伸结果整幅为叶片颜色，没有白边
	for i := 0; i < len(res.Tensor); i += 3 {
		require.InDelta(t, float32(leafGreen.G)/255, res.Tensor[i+1], 1.0/255)
	}
}

func TestPipelineDegradedPathFailureYieldsZeros(t *testing.T) {
	p := newTestPipeline(t, nil)

	res := p.degrade([]byte("garbage"), nil, errors.New("enhance failed"))

	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Contains(t, res.Reason, "zero tensor")
	assert.Contains(t, res.Reason, "enhance failed")
	require.Len(t, res.Tensor, 224*224*3)
	for _, v := range res.Tensor {
		require.Zero(t, v)
	}
}

func TestPipelineCustomTargetSize(t *testing.T) {
	cfg := config.DefaultPreprocessConfig()
	cfg.TargetWidth, cfg.TargetHeight = 32, 16
	p, err := NewPipeline(cfg, testMattingConfig(), nil)
	require.NoError(t, err)

	res := p.Process(context.Background(), encodePNG(t, paint(20, 20, solid(leafGreen))))
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Len(t, res.Tensor, 32*16*3)
	assert.Equal(t, 32, res.Width)
	assert.Equal(t, 16, res.Height)
}

func TestNewPipelineRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultPreprocessConfig()
	cfg.TargetWidth = 0
	_, err := NewPipeline(cfg, testMattingConfig(), nil)
	assert.Error(t, err)

	mcfg := testMattingConfig()
	mcfg.Timeout = 0
	_, err = NewPipeline(config.DefaultPreprocessConfig(), mcfg, nil)
	assert.Error(t, err)
}

func TestNonWhiteFraction(t *testing.T) {
	img := toMat(t, paint(10, 10, func(x, _ int) color.NRGBA {
		if x == 0 {
			return color.NRGBA{R: 249, G: 250, B: 255, A: 255}
		}
		return white
	}))
	defer img.Close()

	// 10 个像素各有一个通道 < 250
	assert.InDelta(t, 10.0/300.0, nonWhiteFraction(img, 250), 1e-9)

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Zero(t, nonWhiteFraction(empty, 250))
}
