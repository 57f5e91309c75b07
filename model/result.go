package model

// PreprocessSummary 预处理结果（可缓存）
type PreprocessSummary struct {
	MD5           string  `json:"md5"`
	Outcome       string  `json:"outcome"` // ok, not_a_leaf, degraded_ok, failed
	Segmentation  string  `json:"segmentation"`
	Reason        string  `json:"reason,omitempty"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Channels      int     `json:"channels"`
	GreenFraction float64 `json:"green_fraction"`
	Timestamp     int64   `json:"timestamp"`
}

// CachedResult Redis 中保存的预处理结果，张量按 8 位量化存储
type CachedResult struct {
	Summary PreprocessSummary `json:"summary"`
	Pixels  []byte            `json:"pixels,omitempty"`
}

// PreprocessResponse 预处理响应
type PreprocessResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Error   string             `json:"error,omitempty"`
	Data    *PreprocessSummary `json:"data,omitempty"`
	Tensor  []float32          `json:"tensor,omitempty"`
}

// DetectResponse 病害识别响应
type DetectResponse struct {
	Success    bool      `json:"success"`
	Disease    string    `json:"disease"`
	Index      int       `json:"index"`
	Confidence float64   `json:"confidence"`
	Scores     []float64 `json:"scores,omitempty"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
