package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix     = "LEAFEYE"
	envConfigPath = "LEAFEYE_CONFIG"
	defaultPath   = "config.yaml"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Matting    MattingConfig    `mapstructure:"matting"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Mode       string `mapstructure:"mode"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// MattingConfig 外部抠图服务（rembg 兼容）
type MattingConfig struct {
	URL                 string        `mapstructure:"url"`
	Model               string        `mapstructure:"model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
	ForegroundThreshold int           `mapstructure:"foreground_threshold"`
	BackgroundThreshold int           `mapstructure:"background_threshold"`
	ErodeSize           int           `mapstructure:"erode_size"`
	PostProcess         bool          `mapstructure:"post_process"`
}

// ClassifierConfig 下游分类模型（TensorFlow Serving REST）
type ClassifierConfig struct {
	URL        string        `mapstructure:"url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	InputScale float64       `mapstructure:"input_scale"`
	Quantize   bool          `mapstructure:"quantize"`
	Labels     []string      `mapstructure:"labels"`
}

type WorkerConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// New 使用默认配置路径加载配置，文件不存在时使用默认值和环境变量
func New() (*Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = defaultPath
	}

	_, err := os.Stat(path)
	return load(path, err == nil)
}

func load(configPath string, readFile bool) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if readFile {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验全部配置
func (c *Config) Validate() error {
	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("invalid preprocess config: %w", err)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	if c.Matting.Timeout <= 0 {
		return fmt.Errorf("matting.timeout must be positive, got %s", c.Matting.Timeout)
	}
	if c.Matting.MaxConcurrent <= 0 {
		return fmt.Errorf("matting.max_concurrent must be positive, got %d", c.Matting.MaxConcurrent)
	}
	if c.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("worker.max_concurrent must be positive, got %d", c.Worker.MaxConcurrent)
	}
	if c.Classifier.InputScale <= 0 {
		return fmt.Errorf("classifier.input_scale must be positive, got %v", c.Classifier.InputScale)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.mode", def.Server.Mode)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)

	v.SetDefault("log.mode", def.Log.Mode)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)

	v.SetDefault("redis.enabled", def.Redis.Enabled)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.ttl", def.Redis.TTL)

	v.SetDefault("upload.max_size", def.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", def.Upload.AllowedTypes)

	p := def.Preprocess
	v.SetDefault("preprocess.target_width", p.TargetWidth)
	v.SetDefault("preprocess.target_height", p.TargetHeight)
	v.SetDefault("preprocess.hue_min", p.HueMin)
	v.SetDefault("preprocess.hue_max", p.HueMax)
	v.SetDefault("preprocess.saturation_min", p.SaturationMin)
	v.SetDefault("preprocess.saturation_max", p.SaturationMax)
	v.SetDefault("preprocess.value_min", p.ValueMin)
	v.SetDefault("preprocess.value_max", p.ValueMax)
	v.SetDefault("preprocess.leaf_gate_fraction", p.LeafGateFraction)
	v.SetDefault("preprocess.pure_leaf_fraction", p.PureLeafFraction)
	v.SetDefault("preprocess.alpha_threshold", p.AlphaThreshold)
	v.SetDefault("preprocess.morph_kernel_size", p.MorphKernelSize)
	v.SetDefault("preprocess.morph_iterations", p.MorphIterations)
	v.SetDefault("preprocess.clahe_clip_limit", p.CLAHEClipLimit)
	v.SetDefault("preprocess.clahe_tile_grid", p.CLAHETileGrid)
	v.SetDefault("preprocess.near_white_value", p.NearWhiteValue)
	v.SetDefault("preprocess.near_white_fraction", p.NearWhiteFraction)

	v.SetDefault("matting.url", def.Matting.URL)
	v.SetDefault("matting.model", def.Matting.Model)
	v.SetDefault("matting.timeout", def.Matting.Timeout)
	v.SetDefault("matting.max_concurrent", def.Matting.MaxConcurrent)
	v.SetDefault("matting.foreground_threshold", def.Matting.ForegroundThreshold)
	v.SetDefault("matting.background_threshold", def.Matting.BackgroundThreshold)
	v.SetDefault("matting.erode_size", def.Matting.ErodeSize)
	v.SetDefault("matting.post_process", def.Matting.PostProcess)

	v.SetDefault("classifier.url", def.Classifier.URL)
	v.SetDefault("classifier.model", def.Classifier.Model)
	v.SetDefault("classifier.timeout", def.Classifier.Timeout)
	v.SetDefault("classifier.input_scale", def.Classifier.InputScale)
	v.SetDefault("classifier.quantize", def.Classifier.Quantize)
	v.SetDefault("classifier.labels", def.Classifier.Labels)

	v.SetDefault("worker.max_concurrent", def.Worker.MaxConcurrent)
	v.SetDefault("worker.queue_timeout", def.Worker.QueueTimeout)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Mode:       "debug",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			TTL:     24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      16 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp"},
		},
		Preprocess: DefaultPreprocessConfig(),
		Matting: MattingConfig{
			URL:                 "http://localhost:7000",
			Model:               "u2net",
			Timeout:             30 * time.Second,
			MaxConcurrent:       2,
			ForegroundThreshold: 240,
			BackgroundThreshold: 10,
			ErodeSize:           5,
			PostProcess:         true,
		},
		Classifier: ClassifierConfig{
			Model:      "leaf_disease",
			Timeout:    15 * time.Second,
			InputScale: 255,
			Quantize:   true,
		},
		Worker: WorkerConfig{
			MaxConcurrent: 4,
			QueueTimeout:  30 * time.Second,
		},
	}
}
