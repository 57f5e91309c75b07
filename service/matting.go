package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// MattingParams 传给抠图服务的 alpha matting 参数
type MattingParams struct {
	ForegroundThreshold int
	BackgroundThreshold int
	ErodeSize           int
	PostProcess         bool
}

// MattingParamsFromConfig 从配置构造抠图参数
func MattingParamsFromConfig(cfg *config.MattingConfig) MattingParams {
	return MattingParams{
		ForegroundThreshold: cfg.ForegroundThreshold,
		BackgroundThreshold: cfg.BackgroundThreshold,
		ErodeSize:           cfg.ErodeSize,
		PostProcess:         cfg.PostProcess,
	}
}

// Matting 前景抠图能力，返回与输入同尺寸的 RGBA 图像，alpha 表示前景置信度
type Matting interface {
	Matte(ctx context.Context, img image.Image, params MattingParams) (image.Image, error)
}

// RembgClient 调用 rembg 兼容的 HTTP 抠图服务
type RembgClient struct {
	baseURL   string
	model     string
	client    *http.Client
	semaphore chan struct{}
}

func NewRembgClient(cfg *config.MattingConfig) *RembgClient {
	return &RembgClient{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		model:     cfg.Model,
		client:    &http.Client{},
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Matte 上传 PNG 并解码服务端返回的 RGBA PNG
func (c *RembgClient) Matte(ctx context.Context, img image.Image, params MattingParams) (image.Image, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for matting slot")
	}

	body, contentType, err := c.encodeRequest(img, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/remove", body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build matting request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "matting request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("matting service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	out, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode matting response")
	}
	return out, nil
}

func (c *RembgClient) encodeRequest(img image.Image, params MattingParams) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create form file")
	}
	if err := imaging.Encode(part, img, imaging.PNG); err != nil {
		return nil, "", errors.Wrap(err, "failed to encode matting input")
	}

	fields := map[string]string{
		"a":   "true",
		"af":  strconv.Itoa(params.ForegroundThreshold),
		"ab":  strconv.Itoa(params.BackgroundThreshold),
		"ae":  strconv.Itoa(params.ErodeSize),
		"ppm": strconv.FormatBool(params.PostProcess),
	}
	if c.model != "" {
		fields["model"] = c.model
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", errors.Wrapf(err, "failed to write field %s", k)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "failed to close multipart writer")
	}
	return &buf, w.FormDataContentType(), nil
}
