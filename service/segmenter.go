package service

import (
	"context"
	"fmt"
	"time"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/A-SH2k17/LeafEyeAIServer/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// SegmentationStatus 记录背景分割走了哪条路径
type SegmentationStatus string

const (
	SegmentationNone          SegmentationStatus = "none"
	SegmentationSkipped       SegmentationStatus = "skipped_pure_leaf"
	SegmentationApplied       SegmentationStatus = "applied"
	SegmentationMattingFailed SegmentationStatus = "matting_failed"
	SegmentationBlankFallback SegmentationStatus = "blank_fallback"
)

// BackgroundSegmenter 用外部抠图结果把叶片合成到白色背景上
type BackgroundSegmenter struct {
	matting        Matting
	params         MattingParams
	timeout        time.Duration
	alphaThreshold int
	kernelSize     int
	iterations     int
	analyzer       *GreenFractionAnalyzer
	maskProcessor  *MaskProcessor
	enhancer       *ContrastEnhancer
}

func NewBackgroundSegmenter(cfg config.PreprocessConfig, mcfg *config.MattingConfig, matting Matting) *BackgroundSegmenter {
	return &BackgroundSegmenter{
		matting:        matting,
		params:         MattingParamsFromConfig(mcfg),
		timeout:        mcfg.Timeout,
		alphaThreshold: cfg.AlphaThreshold,
		kernelSize:     cfg.MorphKernelSize,
		iterations:     cfg.MorphIterations,
		analyzer:       NewGreenFractionAnalyzer(cfg),
		maskProcessor:  NewMaskProcessor(),
		enhancer:       NewContrastEnhancer(cfg),
	}
}

// Segment 返回分割后的新图像
//
// 抠图及掩码处理的任何失败都会退化为对原图做对比度增强；
// 只有该退化步骤本身失败时才返回错误。
func (s *BackgroundSegmenter) Segment(ctx context.Context, img gocv.Mat) (gocv.Mat, SegmentationStatus, error) {
	if s.analyzer.IsPureLeaf(s.analyzer.Compute(img)) {
		return img.Clone(), SegmentationSkipped, nil
	}

	out, err := s.matteAndComposite(ctx, img)
	if err == nil {
		return out, SegmentationApplied, nil
	}

	utils.Logger.Warn("background removal failed, enhancing original",
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()),
		zap.Error(err))

	enhanced, eerr := s.enhancer.Enhance(img)
	if eerr != nil {
		enhanced.Close()
		return gocv.NewMat(), SegmentationMattingFailed, errors.Wrap(eerr, "segmentation fallback enhance")
	}
	return enhanced, SegmentationMattingFailed, nil
}

func (s *BackgroundSegmenter) matteAndComposite(ctx context.Context, img gocv.Mat) (out gocv.Mat, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = gocv.NewMat()
			err = fmt.Errorf("panic during segmentation: %v", r)
		}
	}()

	if s.matting == nil {
		return gocv.NewMat(), errors.New("no matting collaborator configured")
	}

	input, err := matToNRGBA(img)
	if err != nil {
		return gocv.NewMat(), err
	}

	mctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	matted, err := s.matting.Matte(mctx, input, s.params)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "matting")
	}
	if matted == nil {
		return gocv.NewMat(), errors.New("matting returned no image")
	}
	if b := matted.Bounds(); b.Dx() != img.Cols() || b.Dy() != img.Rows() {
		return gocv.NewMat(), errors.Wrapf(ErrDimensionMismatch, "got %dx%d, want %dx%d", b.Dx(), b.Dy(), img.Cols(), img.Rows())
	}
	utils.Logger.Debug("matting finished", zap.Duration("duration", time.Since(start)))

	rgb, alpha, err := splitRGBA(matted)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer rgb.Close()
	defer alpha.Close()

	binary := s.maskProcessor.Binarize(&alpha, s.alphaThreshold)
	defer binary.Close()

	closed := s.maskProcessor.Close(&binary, s.kernelSize, s.iterations)
	defer closed.Close()

	refined := s.maskProcessor.FillContours(&closed)
	defer refined.Close()

	return s.maskProcessor.Composite(&rgb, &refined)
}
