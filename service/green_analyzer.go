package service

import (
	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"gocv.io/x/gocv"
)

// GreenFractionAnalyzer 计算图像中绿色像素的占比
type GreenFractionAnalyzer struct {
	lower    gocv.Scalar
	upper    gocv.Scalar
	gate     float64
	pureLeaf float64
}

func NewGreenFractionAnalyzer(cfg config.PreprocessConfig) *GreenFractionAnalyzer {
	return &GreenFractionAnalyzer{
		lower:    gocv.NewScalar(float64(cfg.HueMin), float64(cfg.SaturationMin), float64(cfg.ValueMin), 0),
		upper:    gocv.NewScalar(float64(cfg.HueMax), float64(cfg.SaturationMax), float64(cfg.ValueMax), 255),
		gate:     cfg.LeafGateFraction,
		pureLeaf: cfg.PureLeafFraction,
	}
}

// Compute 返回 HSV 落在绿色区间内的像素比例
func (ga *GreenFractionAnalyzer) Compute(img gocv.Mat) float64 {
	total := img.Rows() * img.Cols()
	if total == 0 {
		return 0
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorRGBToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, ga.lower, ga.upper, &mask)

	return float64(gocv.CountNonZero(mask)) / float64(total)
}

// IsLeaf 叶片存在性门限
func (ga *GreenFractionAnalyzer) IsLeaf(fraction float64) bool {
	return fraction >= ga.gate
}

// IsPureLeaf 近乎全绿的特写，无需抠图
func (ga *GreenFractionAnalyzer) IsPureLeaf(fraction float64) bool {
	return fraction > ga.pureLeaf
}
