package service

import (
	"image"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"gocv.io/x/gocv"
)

// ContrastEnhancer 在 YCrCb 亮度通道上做 CLAHE
type ContrastEnhancer struct {
	clipLimit float64
	tileGrid  image.Point
}

func NewContrastEnhancer(cfg config.PreprocessConfig) *ContrastEnhancer {
	return &ContrastEnhancer{
		clipLimit: cfg.CLAHEClipLimit,
		tileGrid:  image.Point{X: cfg.CLAHETileGrid, Y: cfg.CLAHETileGrid},
	}
}

// Enhance 返回增强后的新图像，输入不变
func (ce *ContrastEnhancer) Enhance(img gocv.Mat) (gocv.Mat, error) {
	if err := checkRGB(img); err != nil {
		return gocv.NewMat(), err
	}

	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(img, &ycrcb, gocv.ColorRGBToYCrCb)

	channels := gocv.Split(ycrcb)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(ce.clipLimit, ce.tileGrid)
	defer clahe.Close()

	luma := gocv.NewMat()
	clahe.Apply(channels[0], &luma)
	channels[0].Close()
	channels[0] = luma

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	enhanced := gocv.NewMat()
	gocv.CvtColor(merged, &enhanced, gocv.ColorYCrCbToRGB)
	return enhanced, nil
}
