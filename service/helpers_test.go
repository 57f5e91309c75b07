package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	leafGreen = color.NRGBA{R: 40, G: 160, B: 40, A: 255}
	white     = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black     = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	red       = color.NRGBA{R: 220, G: 20, B: 20, A: 255}
)

// stubMatting 记录调用次数的抠图桩
type stubMatting struct {
	calls atomic.Int32
	fn    func(ctx context.Context, img image.Image) (image.Image, error)
}

func (s *stubMatting) Matte(ctx context.Context, img image.Image, _ MattingParams) (image.Image, error) {
	s.calls.Add(1)
	return s.fn(ctx, img)
}

// alphaWhere 保留输入 RGB，alpha 由 inside 决定
func alphaWhere(inside func(x, y int) bool) func(context.Context, image.Image) (image.Image, error) {
	return func(_ context.Context, img image.Image) (image.Image, error) {
		src := imaging.Clone(img)
		b := src.Bounds()
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				a := uint8(0)
				if inside(x, y) {
					a = 255
				}
				src.Pix[y*src.Stride+x*4+3] = a
			}
		}
		return src, nil
	}
}

func testMattingConfig() *config.MattingConfig {
	return &config.MattingConfig{
		Timeout:             time.Second,
		MaxConcurrent:       1,
		ForegroundThreshold: 240,
		BackgroundThreshold: 10,
		ErodeSize:           5,
		PostProcess:         true,
	}
}

// paint 生成测试图像
func paint(width, height int, fill func(x, y int) color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill(x, y))
		}
	}
	return img
}

func solid(c color.NRGBA) func(x, y int) color.NRGBA {
	return func(int, int) color.NRGBA { return c }
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func toMat(t *testing.T, img *image.NRGBA) gocv.Mat {
	t.Helper()
	b := img.Bounds()
	pix := make([]byte, 0, b.Dx()*b.Dy()*3)
	for i := 0; i < len(img.Pix); i += 4 {
		pix = append(pix, img.Pix[i], img.Pix[i+1], img.Pix[i+2])
	}
	m, err := newRGBMat(b.Dx(), b.Dy(), pix)
	require.NoError(t, err)
	return m
}

func rgbAt(m gocv.Mat, x, y int) [3]uint8 {
	v := m.GetVecbAt(y, x)
	return [3]uint8{v[0], v[1], v[2]}
}
