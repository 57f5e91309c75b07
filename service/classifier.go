package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/A-SH2k17/LeafEyeAIServer/config"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrClassifierUnavailable 未配置分类模型
var ErrClassifierUnavailable = errors.New("classifier is not configured")

// Classification 分类结果
type Classification struct {
	Label      string
	Index      int
	Confidence float64
	Scores     []float64
}

// Classifier 下游分类能力，输入为 Height x Width x 3 的归一化张量
type Classifier interface {
	Classify(ctx context.Context, tensor []float32, width, height int) (*Classification, error)
}

// TFServingClassifier 通过 TensorFlow Serving REST 接口分类
type TFServingClassifier struct {
	endpoint   string
	inputScale float64
	quantize   bool
	labels     []string
	client     *http.Client
}

// NewTFServingClassifier URL 为空时返回 nil
func NewTFServingClassifier(cfg *config.ClassifierConfig) *TFServingClassifier {
	if cfg.URL == "" {
		return nil
	}
	return &TFServingClassifier{
		endpoint:   fmt.Sprintf("%s/v1/models/%s:predict", strings.TrimRight(cfg.URL, "/"), cfg.Model),
		inputScale: cfg.InputScale,
		quantize:   cfg.Quantize,
		labels:     cfg.Labels,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type predictRequest struct {
	Instances [][][][3]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

func (c *TFServingClassifier) Classify(ctx context.Context, tensor []float32, width, height int) (*Classification, error) {
	if len(tensor) != width*height*3 {
		return nil, fmt.Errorf("tensor has %d values, want %d", len(tensor), width*height*3)
	}

	payload, err := json.Marshal(predictRequest{Instances: [][][][3]float32{c.shape(tensor, width, height)}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode predict request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build predict request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "predict request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read predict response")
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrapf(err, "invalid predict response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, out.Error)
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0]) == 0 {
		return nil, errors.New("classifier returned no predictions")
	}

	return c.pick(out.Predictions[0]), nil
}

// shape 按模型输入要求缩放，量化时截断为整数（与按 uint8 喂给模型一致）
func (c *TFServingClassifier) shape(tensor []float32, width, height int) [][][3]float32 {
	scale := float32(c.inputScale)
	rows := make([][][3]float32, height)
	i := 0
	for y := 0; y < height; y++ {
		row := make([][3]float32, width)
		for x := 0; x < width; x++ {
			for ch := 0; ch < 3; ch++ {
				v := float32(tensor[i] * scale)
				if c.quantize {
					v = float32(math.Trunc(float64(v)))
				}
				row[x][ch] = v
				i++
			}
		}
		rows[y] = row
	}
	return rows
}

func (c *TFServingClassifier) pick(scores []float64) *Classification {
	best := floats.MaxIdx(scores)
	label := fmt.Sprintf("class_%d", best)
	if best < len(c.labels) {
		label = c.labels[best]
	}
	return &Classification{
		Label:      label,
		Index:      best,
		Confidence: scores[best],
		Scores:     scores,
	}
}
