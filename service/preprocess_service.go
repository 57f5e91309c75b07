package service

import (
	"context"
	"math"
	"time"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/A-SH2k17/LeafEyeAIServer/model"
	"github.com/A-SH2k17/LeafEyeAIServer/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrQueueFull 等待处理名额超时
var ErrQueueFull = errors.New("processing queue is full, please retry later")

// PreprocessService 在 Pipeline 外层提供并发控制与结果缓存
type PreprocessService struct {
	pipeline     *Pipeline
	cache        ResultCache
	semaphore    chan struct{}
	queueTimeout time.Duration
	fingerprint  string
}

// NewPreprocessService cache 可为 nil
func NewPreprocessService(cfg *config.WorkerConfig, pipeline *Pipeline, cache ResultCache) *PreprocessService {
	return &PreprocessService{
		pipeline:     pipeline,
		cache:        cache,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: cfg.QueueTimeout,
		fingerprint:  utils.BytesMD5([]byte(pipeline.Config().Fingerprint()))[:8],
	}
}

// Process 处理上传字节，返回结果及其 MD5
func (s *PreprocessService) Process(ctx context.Context, data []byte) (*Result, string, error) {
	md5 := utils.BytesMD5(data)

	if cached := s.lookup(ctx, md5); cached != nil {
		utils.Logger.Info("cache hit", zap.String("md5", md5))
		return cached, md5, nil
	}

	// 并发控制
	qctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-qctx.Done():
		return nil, md5, ErrQueueFull
	}

	res := s.pipeline.Process(ctx, data)
	if cacheable(res) {
		s.store(ctx, md5, res)
	}
	return res, md5, nil
}

// cacheable 只缓存与外部服务状态无关的结果；抠图失败和降级结果下次请求需重新计算
func cacheable(res *Result) bool {
	switch res.Outcome {
	case OutcomeNotALeaf:
		return true
	case OutcomeOK:
		switch res.Segmentation {
		case SegmentationApplied, SegmentationSkipped, SegmentationBlankFallback:
			return true
		}
	}
	return false
}

// Lookup 按 MD5 查询已缓存的结果
func (s *PreprocessService) Lookup(ctx context.Context, md5 string) (*Result, error) {
	if s.cache == nil {
		return nil, nil
	}
	cached, err := s.cache.GetResult(ctx, s.key(md5))
	if err != nil || cached == nil {
		return nil, err
	}
	return fromCached(cached), nil
}

func (s *PreprocessService) lookup(ctx context.Context, md5 string) *Result {
	res, err := s.Lookup(ctx, md5)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	return res
}

func (s *PreprocessService) store(ctx context.Context, md5 string, res *Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetResult(ctx, s.key(md5), toCached(md5, res)); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
}

func (s *PreprocessService) key(md5 string) string {
	return md5 + ":" + s.fingerprint
}

// Summary 结果摘要
func Summary(md5 string, res *Result) model.PreprocessSummary {
	channels := 0
	if res.HasTensor() {
		channels = 3
	}
	return model.PreprocessSummary{
		MD5:           md5,
		Outcome:       string(res.Outcome),
		Segmentation:  string(res.Segmentation),
		Reason:        res.Reason,
		Width:         res.Width,
		Height:        res.Height,
		Channels:      channels,
		GreenFraction: res.GreenFraction,
		Timestamp:     time.Now().Unix(),
	}
}

// 张量的每个值都是 k/255，量化为字节无损
func toCached(md5 string, res *Result) *model.CachedResult {
	out := &model.CachedResult{Summary: Summary(md5, res)}
	if len(res.Tensor) > 0 {
		out.Pixels = make([]byte, len(res.Tensor))
		for i, v := range res.Tensor {
			out.Pixels[i] = uint8(math.Round(float64(v) * 255))
		}
	}
	return out
}

func fromCached(c *model.CachedResult) *Result {
	res := &Result{
		Outcome:       Outcome(c.Summary.Outcome),
		Width:         c.Summary.Width,
		Height:        c.Summary.Height,
		GreenFraction: c.Summary.GreenFraction,
		Segmentation:  SegmentationStatus(c.Summary.Segmentation),
		Reason:        c.Summary.Reason,
	}
	if len(c.Pixels) > 0 {
		res.Tensor = make([]float32, len(c.Pixels))
		for i, b := range c.Pixels {
			res.Tensor[i] = float32(b) / 255
		}
	}
	return res
}
