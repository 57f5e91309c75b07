package config

import (
	"errors"
	"fmt"
)

// PreprocessConfig 叶片图像归一化参数，只读，可在并发请求间共享
//
// 色调/饱和度/亮度使用 OpenCV 8 位 HSV 约定（H 取值 [0,180)，S/V 取值 [0,255]）。
type PreprocessConfig struct {
	TargetWidth  int `mapstructure:"target_width"`
	TargetHeight int `mapstructure:"target_height"`

	HueMin        int `mapstructure:"hue_min"`
	HueMax        int `mapstructure:"hue_max"`
	SaturationMin int `mapstructure:"saturation_min"`
	SaturationMax int `mapstructure:"saturation_max"`
	ValueMin      int `mapstructure:"value_min"`
	ValueMax      int `mapstructure:"value_max"`

	// 绿色占比低于该值判定为非叶片
	LeafGateFraction float64 `mapstructure:"leaf_gate_fraction"`
	// 绿色占比高于该值跳过抠图
	PureLeafFraction float64 `mapstructure:"pure_leaf_fraction"`

	AlphaThreshold  int `mapstructure:"alpha_threshold"`
	MorphKernelSize int `mapstructure:"morph_kernel_size"`
	MorphIterations int `mapstructure:"morph_iterations"`

	CLAHEClipLimit float64 `mapstructure:"clahe_clip_limit"`
	CLAHETileGrid  int     `mapstructure:"clahe_tile_grid"`

	// 通道值 >= NearWhiteValue 视为接近白色
	NearWhiteValue    int     `mapstructure:"near_white_value"`
	NearWhiteFraction float64 `mapstructure:"near_white_fraction"`
}

// DefaultPreprocessConfig 返回默认预处理参数
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		TargetWidth:       224,
		TargetHeight:      224,
		HueMin:            20,
		HueMax:            100,
		SaturationMin:     30,
		SaturationMax:     255,
		ValueMin:          30,
		ValueMax:          255,
		LeafGateFraction:  0.3,
		PureLeafFraction:  0.9999,
		AlphaThreshold:    50,
		MorphKernelSize:   3,
		MorphIterations:   2,
		CLAHEClipLimit:    2.0,
		CLAHETileGrid:     8,
		NearWhiteValue:    250,
		NearWhiteFraction: 0.01,
	}
}

// Validate 校验参数范围
func (p PreprocessConfig) Validate() error {
	if p.TargetWidth <= 0 || p.TargetHeight <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", p.TargetWidth, p.TargetHeight)
	}
	if err := checkRange("hue", p.HueMin, p.HueMax, 179); err != nil {
		return err
	}
	if err := checkRange("saturation", p.SaturationMin, p.SaturationMax, 255); err != nil {
		return err
	}
	if err := checkRange("value", p.ValueMin, p.ValueMax, 255); err != nil {
		return err
	}
	if !isFraction(p.LeafGateFraction) || !isFraction(p.PureLeafFraction) || !isFraction(p.NearWhiteFraction) {
		return errors.New("fractions must lie in [0,1]")
	}
	if p.AlphaThreshold < 0 || p.AlphaThreshold > 255 {
		return fmt.Errorf("alpha threshold must lie in [0,255], got %d", p.AlphaThreshold)
	}
	if p.NearWhiteValue < 1 || p.NearWhiteValue > 255 {
		return fmt.Errorf("near-white value must lie in [1,255], got %d", p.NearWhiteValue)
	}
	if p.MorphKernelSize <= 0 || p.MorphKernelSize%2 == 0 {
		return fmt.Errorf("morphology kernel size must be a positive odd number, got %d", p.MorphKernelSize)
	}
	if p.MorphIterations < 0 {
		return fmt.Errorf("morphology iterations must not be negative, got %d", p.MorphIterations)
	}
	if p.CLAHEClipLimit <= 0 {
		return fmt.Errorf("clahe clip limit must be positive, got %v", p.CLAHEClipLimit)
	}
	if p.CLAHETileGrid <= 0 {
		return fmt.Errorf("clahe tile grid must be positive, got %d", p.CLAHETileGrid)
	}
	return nil
}

// Fingerprint 用于区分不同参数下的缓存结果
func (p PreprocessConfig) Fingerprint() string {
	return fmt.Sprintf("%dx%d:h%d-%d:s%d-%d:v%d-%d:g%g:p%g:a%d:m%dx%d:c%g/%d:w%d/%g",
		p.TargetWidth, p.TargetHeight,
		p.HueMin, p.HueMax, p.SaturationMin, p.SaturationMax, p.ValueMin, p.ValueMax,
		p.LeafGateFraction, p.PureLeafFraction, p.AlphaThreshold,
		p.MorphKernelSize, p.MorphIterations, p.CLAHEClipLimit, p.CLAHETileGrid,
		p.NearWhiteValue, p.NearWhiteFraction)
}

func checkRange(name string, lo, hi, limit int) error {
	if lo < 0 || hi > limit || lo > hi {
		return fmt.Errorf("%s bounds must satisfy 0 <= min <= max <= %d, got [%d,%d]", name, limit, lo, hi)
	}
	return nil
}

func isFraction(f float64) bool {
	return f >= 0 && f <= 1
}
