package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// PipelineConfig bounds the processing pipeline and supplies the matte
// refinement defaults. Preset sides pick the inference resolution; MaxSide is
// the absolute ceiling on input dimensions enforced before any stage runs.
type PipelineConfig struct {
	MaxConcurrent   int            `mapstructure:"max_concurrent"`
	QueueTimeout    time.Duration  `mapstructure:"queue_timeout"`
	MaxSide         int            `mapstructure:"max_side"`
	PresetSides     map[string]int `mapstructure:"preset_sides"`
	RefineContract  int            `mapstructure:"refine_contract"`
	RefineExpand    int            `mapstructure:"refine_expand"`
	RefineBlurSigma float64        `mapstructure:"refine_blur_sigma"`
	RefineBoostDark bool           `mapstructure:"refine_boost_dark"`
	MaxCropMargin   int            `mapstructure:"max_crop_margin"`
}

type CacheConfig struct {
	Memory MemoryCacheConfig `mapstructure:"memory"`
	Redis  RedisConfig       `mapstructure:"redis"`
}

type MemoryCacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	SweepSpec  string        `mapstructure:"sweep_spec"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SegmenterConfig describes the external inference backend. PresetModels maps
// the fast/balanced/quality presets onto model ids; FallbackModel is the
// cheapest always-available model used by the single retry tier.
type SegmenterConfig struct {
	BaseURL             string            `mapstructure:"base_url"`
	Timeout             time.Duration     `mapstructure:"timeout"`
	PresetModels        map[string]string `mapstructure:"preset_models"`
	ExtraModels         []string          `mapstructure:"extra_models"`
	FallbackModel       string            `mapstructure:"fallback_model"`
	AlphaMatting        bool              `mapstructure:"alpha_matting"`
	ForegroundThreshold float64           `mapstructure:"foreground_threshold"`
	BackgroundThreshold float64           `mapstructure:"background_threshold"`
	ErodeSize           int               `mapstructure:"erode_size"`
}

// Load reads the YAML config file at configPath.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.clamp()
	return &cfg, nil
}

// New loads config.yaml from the working directory, falling back to the
// built-in defaults when the file is missing.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg", "image/webp"})

	v.SetDefault("pipeline.max_concurrent", 3)
	v.SetDefault("pipeline.queue_timeout", 30*time.Second)
	v.SetDefault("pipeline.max_side", 8192)
	v.SetDefault("pipeline.preset_sides", map[string]int{
		"fast":     1024,
		"balanced": 1536,
		"quality":  2048,
	})
	v.SetDefault("pipeline.refine_contract", 1)
	v.SetDefault("pipeline.refine_expand", 2)
	v.SetDefault("pipeline.refine_blur_sigma", 1.2)
	v.SetDefault("pipeline.refine_boost_dark", true)
	v.SetDefault("pipeline.max_crop_margin", 200)

	v.SetDefault("cache.memory.ttl", 1*time.Hour)
	v.SetDefault("cache.memory.max_entries", 512)
	v.SetDefault("cache.memory.sweep_spec", "@every 5m")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.ttl", 24*time.Hour)

	v.SetDefault("segmenter.base_url", "http://localhost:7000")
	v.SetDefault("segmenter.timeout", 120*time.Second)
	v.SetDefault("segmenter.preset_models", map[string]string{
		"fast":     "u2net",
		"balanced": "isnet-general-use",
		"quality":  "birefnet-general",
	})
	v.SetDefault("segmenter.extra_models", []string{"u2net_human_seg"})
	v.SetDefault("segmenter.fallback_model", "u2netp")
	v.SetDefault("segmenter.alpha_matting", false)
	v.SetDefault("segmenter.foreground_threshold", 0.94)
	v.SetDefault("segmenter.background_threshold", 0.04)
	v.SetDefault("segmenter.erode_size", 10)
}

// clamp forces out-of-range numeric fields back into their valid ranges so
// that a bad config file degrades instead of misbehaving downstream.
func (c *Config) clamp() {
	if c.Pipeline.MaxConcurrent < 1 {
		c.Pipeline.MaxConcurrent = 1
	}
	if c.Pipeline.MaxSide < 256 {
		c.Pipeline.MaxSide = 256
	}
	for preset, side := range c.Pipeline.PresetSides {
		if side < 64 {
			c.Pipeline.PresetSides[preset] = 64
		}
		if side > c.Pipeline.MaxSide {
			c.Pipeline.PresetSides[preset] = c.Pipeline.MaxSide
		}
	}
	if c.Pipeline.RefineContract < 0 {
		c.Pipeline.RefineContract = 0
	}
	if c.Pipeline.RefineExpand < 0 {
		c.Pipeline.RefineExpand = 0
	}
	if c.Pipeline.RefineBlurSigma < 0 {
		c.Pipeline.RefineBlurSigma = 0
	}
	if c.Pipeline.MaxCropMargin < 0 {
		c.Pipeline.MaxCropMargin = 0
	}
	if c.Cache.Memory.MaxEntries < 0 {
		c.Cache.Memory.MaxEntries = 0
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// defaults always unmarshal; this is unreachable in practice
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	cfg.clamp()
	return &cfg
}
