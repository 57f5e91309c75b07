package service

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/A-SH2k17/LeafEyeAIServer/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache 内存缓存，测试用
type memCache struct {
	mu    sync.Mutex
	items map[string]*model.CachedResult
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]*model.CachedResult)}
}

func (c *memCache) GetResult(_ context.Context, key string) (*model.CachedResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[key], nil
}

func (c *memCache) SetResult(_ context.Context, key string, result *model.CachedResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = result
	return nil
}

func newTestService(t *testing.T, m Matting, cache ResultCache) *PreprocessService {
	t.Helper()
	return NewPreprocessService(&config.WorkerConfig{MaxConcurrent: 1, QueueTimeout: time.Second}, newTestPipeline(t, m), cache)
}

func TestPreprocessServiceCacheHit(t *testing.T) {
	stub := &stubMatting{fn: alphaWhere(func(x, _ int) bool { return x < 40 })}
	cache := newMemCache()
	svc := newTestService(t, stub, cache)
	data := encodePNG(t, paint(80, 60, halfLeaf))

	first, md5, err := svc.Process(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, first.Outcome)
	assert.Len(t, md5, 32)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Len(t, cache.items, 1)

	second, md5Again, err := svc.Process(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, md5, md5Again)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.Segmentation, second.Segmentation)
	require.Len(t, second.Tensor, len(first.Tensor))
	for i := range first.Tensor {
		if !assert.InDelta(t, first.Tensor[i], second.Tensor[i], 1e-6) {
			break
		}
	}

	looked, err := svc.Lookup(context.Background(), md5)
	require.NoError(t, err)
	require.NotNil(t, looked)
	assert.Equal(t, OutcomeOK, looked.Outcome)
}

func TestPreprocessServiceRetriesAfterMattingFailure(t *testing.T) {
	succeed := alphaWhere(func(x, _ int) bool { return x < 40 })
	var stub *stubMatting
	stub = &stubMatting{fn: func(ctx context.Context, img image.Image) (image.Image, error) {
		if stub.calls.Load() == 1 {
			return nil, errors.New("rembg unavailable")
		}
		return succeed(ctx, img)
	}}
	cache := newMemCache()
	svc := newTestService(t, stub, cache)
	data := encodePNG(t, paint(80, 60, halfLeaf))

	first, _, err := svc.Process(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, first.Outcome)
	assert.Equal(t, SegmentationMattingFailed, first.Segmentation)
	assert.Empty(t, cache.items)

	second, _, err := svc.Process(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, SegmentationApplied, second.Segmentation)
	assert.Equal(t, int32(2), stub.calls.Load())
	assert.Len(t, cache.items, 1)

	third, _, err := svc.Process(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, SegmentationApplied, third.Segmentation)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		outcome      Outcome
		segmentation SegmentationStatus
		want         bool
	}{
		{OutcomeNotALeaf, SegmentationNone, true},
		{OutcomeOK, SegmentationApplied, true},
		{OutcomeOK, SegmentationSkipped, true},
		{OutcomeOK, SegmentationBlankFallback, true},
		{OutcomeOK, SegmentationMattingFailed, false},
		{OutcomeDegraded, SegmentationApplied, false},
		{OutcomeDegraded, SegmentationNone, false},
		{OutcomeFailed, SegmentationNone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome)+"/"+string(tt.segmentation), func(t *testing.T) {
			assert.Equal(t, tt.want, cacheable(&Result{Outcome: tt.outcome, Segmentation: tt.segmentation}))
		})
	}
}

func TestPreprocessServiceSkipsFailedResults(t *testing.T) {
	cache := newMemCache()
	svc := newTestService(t, &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}, cache)

	res, _, err := svc.Process(context.Background(), []byte("garbage"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, cache.items)
}

func TestPreprocessServiceWithoutCache(t *testing.T) {
	svc := newTestService(t, &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}, nil)

	res, md5, err := svc.Process(context.Background(), encodePNG(t, paint(20, 20, solid(red))))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotALeaf, res.Outcome)

	looked, err := svc.Lookup(context.Background(), md5)
	assert.NoError(t, err)
	assert.Nil(t, looked)
}

func TestPreprocessServiceQueueFull(t *testing.T) {
	svc := NewPreprocessService(&config.WorkerConfig{MaxConcurrent: 1, QueueTimeout: 20 * time.Millisecond},
		newTestPipeline(t, &stubMatting{fn: alphaWhere(func(int, int) bool { return true })}), nil)

	svc.semaphore <- struct{}{}
	defer func() { <-svc.semaphore }()

	_, _, err := svc.Process(context.Background(), encodePNG(t, paint(10, 10, solid(red))))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestCachedResultRoundTrip(t *testing.T) {
	res := &Result{
		Outcome:       OutcomeDegraded,
		Tensor:        []float32{0, 1, 128.0 / 255, 7.0 / 255},
		Width:         2,
		Height:        1,
		GreenFraction: 0.42,
		Segmentation:  SegmentationMattingFailed,
		Reason:        "stretched resize: boom",
	}

	cached := toCached("abc", res)
	assert.Equal(t, []byte{0, 255, 128, 7}, cached.Pixels)
	assert.Equal(t, "abc", cached.Summary.MD5)
	assert.Equal(t, 3, cached.Summary.Channels)

	back := fromCached(cached)
	assert.Equal(t, res.Outcome, back.Outcome)
	assert.Equal(t, res.Segmentation, back.Segmentation)
	assert.Equal(t, res.Reason, back.Reason)
	assert.Equal(t, res.Width, back.Width)
	assert.Equal(t, res.GreenFraction, back.GreenFraction)
	assert.InDeltaSlice(t, res.Tensor, back.Tensor, 1e-6)
}
