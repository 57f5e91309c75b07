package service

import (
	"context"
	"fmt"
	"time"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/A-SH2k17/LeafEyeAIServer/utils"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Outcome 预处理的最终结果类别
type Outcome string

const (
	// OutcomeOK 主路径成功
	OutcomeOK Outcome = "ok"
	// OutcomeNotALeaf 绿色占比不足，不是错误
	OutcomeNotALeaf Outcome = "not_a_leaf"
	// OutcomeDegraded 主路径失败，张量来自拉伸降级路径或全零张量
	OutcomeDegraded Outcome = "degraded_ok"
	// OutcomeFailed 输入无法解码
	OutcomeFailed Outcome = "failed"
)

// Result 一次预处理的结果
//
// Tensor 为 Height x Width x 3 的行主序 RGB 浮点数组，取值 [0,1]；
// 仅 OutcomeOK 与 OutcomeDegraded 时非空。
type Result struct {
	Outcome       Outcome
	Tensor        []float32
	Width         int
	Height        int
	GreenFraction float64
	Segmentation  SegmentationStatus
	Reason        string
	err           error
}

// Err 仅在 OutcomeFailed 时返回解码错误
func (r *Result) Err() error {
	return r.err
}

// HasTensor 是否产出了张量
func (r *Result) HasTensor() bool {
	return r.Outcome == OutcomeOK || r.Outcome == OutcomeDegraded
}

// Pipeline 叶片图像归一化流程，唯一对外入口
//
// 不持有请求间可变状态，可被多个请求并发调用。
type Pipeline struct {
	cfg       config.PreprocessConfig
	analyzer  *GreenFractionAnalyzer
	segmenter *BackgroundSegmenter
	enhancer  *ContrastEnhancer
	resizer   *AspectPreservingResizer
}

func NewPipeline(cfg config.PreprocessConfig, mcfg *config.MattingConfig, matting Matting) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid preprocess config")
	}
	if mcfg.Timeout <= 0 {
		return nil, fmt.Errorf("matting timeout must be positive, got %s", mcfg.Timeout)
	}
	return &Pipeline{
		cfg:       cfg,
		analyzer:  NewGreenFractionAnalyzer(cfg),
		segmenter: NewBackgroundSegmenter(cfg, mcfg, matting),
		enhancer:  NewContrastEnhancer(cfg),
		resizer:   NewAspectPreservingResizer(),
	}, nil
}

// Config 返回流程使用的参数
func (p *Pipeline) Config() config.PreprocessConfig {
	return p.cfg
}

// Process 解码 → 绿色门限 → 背景分割 → 质量检查 → 对比度增强 → 等比缩放 → 归一化
func (p *Pipeline) Process(ctx context.Context, data []byte) *Result {
	start := time.Now()

	img, err := DecodeRGB(data)
	defer img.Close()
	if err != nil {
		utils.Logger.Warn("failed to decode upload", zap.Int("bytes", len(data)), zap.Error(err))
		return &Result{Outcome: OutcomeFailed, Segmentation: SegmentationNone, Reason: err.Error(), err: err}
	}

	res, err := p.run(ctx, img)
	if err == nil {
		utils.Logger.Info("image preprocessed",
			zap.String("outcome", string(res.Outcome)),
			zap.String("segmentation", string(res.Segmentation)),
			zap.Float64("green_fraction", res.GreenFraction),
			zap.Duration("duration", time.Since(start)))
		return res
	}

	return p.degrade(data, res, err)
}

func (p *Pipeline) run(ctx context.Context, img gocv.Mat) (res *Result, err error) {
	res = &Result{
		Width:        p.cfg.TargetWidth,
		Height:       p.cfg.TargetHeight,
		Segmentation: SegmentationNone,
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline: %v", r)
		}
	}()

	res.GreenFraction = p.analyzer.Compute(img)
	if !p.analyzer.IsLeaf(res.GreenFraction) {
		res.Outcome = OutcomeNotALeaf
		res.Reason = fmt.Sprintf("green fraction %.4f below %.4f", res.GreenFraction, p.cfg.LeafGateFraction)
		return res, nil
	}

	segmented, status, err := p.segmenter.Segment(ctx, img)
	defer segmented.Close()
	res.Segmentation = status
	if err != nil {
		return res, err
	}

	source := segmented
	if nonWhite := nonWhiteFraction(segmented, p.cfg.NearWhiteValue); nonWhite < p.cfg.NearWhiteFraction {
		utils.Logger.Warn("segmentation produced a blank image, enhancing original",
			zap.Float64("non_white_fraction", nonWhite))
		res.Segmentation = SegmentationBlankFallback
		source = img
	}

	enhanced, err := p.enhancer.Enhance(source)
	defer enhanced.Close()
	if err != nil {
		return res, errors.Wrap(err, "enhance")
	}

	resized, err := p.resizer.Resize(enhanced, p.cfg.TargetWidth, p.cfg.TargetHeight)
	defer resized.Close()
	if err != nil {
		return res, errors.Wrap(err, "resize")
	}

	res.Tensor, err = normalize(resized)
	if err != nil {
		return res, errors.Wrap(err, "normalize")
	}
	res.Outcome = OutcomeOK
	return res, nil
}

// degrade 主路径失败后的兜底，不会返回错误
func (p *Pipeline) degrade(data []byte, partial *Result, cause error) *Result {
	res := &Result{
		Outcome:      OutcomeDegraded,
		Width:        p.cfg.TargetWidth,
		Height:       p.cfg.TargetHeight,
		Segmentation: SegmentationNone,
	}
	if partial != nil {
		res.GreenFraction = partial.GreenFraction
		res.Segmentation = partial.Segmentation
	}

	tensor, err := stretchTensor(data, p.cfg.TargetWidth, p.cfg.TargetHeight)
	if err != nil {
		combined := multierr.Combine(cause, err)
		utils.Logger.Error("degraded preprocessing failed, returning zero tensor", zap.Error(combined))
		res.Tensor = make([]float32, p.cfg.TargetWidth*p.cfg.TargetHeight*3)
		res.Reason = "zero tensor: " + combined.Error()
		return res
	}

	utils.Logger.Warn("preprocessing degraded to stretched resize", zap.Error(cause))
	res.Tensor = tensor
	res.Reason = "stretched resize: " + cause.Error()
	return res
}

// nonWhiteFraction 统计通道值低于 nearWhite 的比例（按 h*w*3 个通道值计）
func nonWhiteFraction(img gocv.Mat, nearWhite int) float64 {
	total := img.Rows() * img.Cols() * img.Channels()
	if total == 0 {
		return 0
	}

	below := gocv.NewMat()
	defer below.Close()
	gocv.Threshold(img, &below, float32(nearWhite-1), 255, gocv.ThresholdBinaryInv)

	flat := below.Reshape(1, 0)
	defer flat.Close()

	return float64(gocv.CountNonZero(flat)) / float64(total)
}

func normalize(img gocv.Mat) ([]float32, error) {
	scaled := gocv.NewMat()
	defer scaled.Close()
	img.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := scaled.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	tensor := make([]float32, len(data))
	copy(tensor, data)
	return tensor, nil
}
