// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZSC714725/smarttimeline/internal/editmap"
	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Render    RenderConfig    `yaml:"render"`
	Retry     RetryConfig     `yaml:"retry"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// AddressConfig holds allow/block expressions for one direction.
type AddressConfig struct {
	Allow []string `yaml:"allow"`
	Block []string `yaml:"block"`
}

// FFmpegConfig FFmpeg 配置
type FFmpegConfig struct {
	Path         string        `yaml:"path"`
	ProbePath    string        `yaml:"probe_path"`
	WorkDir      string        `yaml:"work_dir"`
	LogLines     int           `yaml:"log_lines"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	Input        AddressConfig `yaml:"input"`
	Output       AddressConfig `yaml:"output"`
}

// RenderConfig 渲染配置
type RenderConfig struct {
	// Preset fills the fields below that are left empty: fast, balanced or quality.
	Preset       string `yaml:"preset"`
	Resolution   string `yaml:"resolution"`
	Workers      int    `yaml:"workers"`
	CRF          int    `yaml:"crf"`
	X264Preset   string `yaml:"x264_preset"`
	AudioBitrate string `yaml:"audio_bitrate"`
	VideoBitrate string `yaml:"video_bitrate"`
	KeepWorkDir  bool   `yaml:"keep_work_dir"`
}

// RetryConfig 重试与超时
type RetryConfig struct {
	Attempts               int           `yaml:"attempts"`
	InitialDelay           time.Duration `yaml:"initial_delay"`
	MaxDelay               time.Duration `yaml:"max_delay"`
	Multiplier             float64       `yaml:"multiplier"`
	CopyTimeoutBase        time.Duration `yaml:"copy_timeout_base"`
	CopyTimeoutPerSecond   float64       `yaml:"copy_timeout_per_second"`
	CopyTimeoutMax         time.Duration `yaml:"copy_timeout_max"`
	RenderTimeoutBase      time.Duration `yaml:"render_timeout_base"`
	RenderTimeoutPerSecond float64       `yaml:"render_timeout_per_second"`
	RenderTimeoutMax       time.Duration `yaml:"render_timeout_max"`
}

// WatermarkConfig is applied to jobs whose edit map has no watermark.
type WatermarkConfig struct {
	Image    string  `yaml:"image"`
	Position string  `yaml:"position"`
	Scale    float64 `yaml:"scale"`
	Opacity  float64 `yaml:"opacity"`
	Padding  int     `yaml:"padding"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Preset is a named render quality profile.
type Preset struct {
	CRF          int
	X264Preset   string
	Workers      int
	AudioBitrate string
}

// Presets mirror the quality profiles offered to users.
var Presets = map[string]Preset{
	"fast":     {CRF: 26, X264Preset: "ultrafast", Workers: 4, AudioBitrate: "96k"},
	"balanced": {CRF: 23, X264Preset: "veryfast", Workers: 3, AudioBitrate: "128k"},
	"quality":  {CRF: 20, X264Preset: "medium", Workers: 2, AudioBitrate: "192k"},
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.fill()
	return cfg
}

// Load 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	// 预设只填充空值
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Render.Preset != "" {
		if _, ok := Presets[cfg.Render.Preset]; !ok {
			return nil, fmt.Errorf("unknown render preset %q", cfg.Render.Preset)
		}
	}

	cfg.fill()
	return cfg, nil
}

// 填充空值
func (c *Config) fill() {
	if c.Server.Bind == "" {
		c.Server.Bind = ":8080"
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = "ffmpeg"
	}
	if c.FFmpeg.ProbePath == "" {
		c.FFmpeg.ProbePath = "ffprobe"
	}
	if c.FFmpeg.LogLines <= 0 {
		c.FFmpeg.LogLines = 100
	}

	if c.Render.Preset == "" {
		c.Render.Preset = "balanced"
	}
	p := Presets[c.Render.Preset]
	if c.Render.Resolution == "" {
		c.Render.Resolution = string(media.Resolution720p)
	}
	if c.Render.Workers <= 0 {
		c.Render.Workers = p.Workers
	}
	if c.Render.CRF <= 0 {
		c.Render.CRF = p.CRF
	}
	if c.Render.X264Preset == "" {
		c.Render.X264Preset = p.X264Preset
	}
	if c.Render.AudioBitrate == "" {
		c.Render.AudioBitrate = p.AudioBitrate
	}

	copyDef, renderDef, retryDef := engine.DefaultCopyTimeout(), engine.DefaultRenderTimeout(), engine.DefaultRetryPolicy()
	r := &c.Retry
	if r.Attempts <= 0 {
		r.Attempts = retryDef.Attempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = retryDef.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = retryDef.MaxDelay
	}
	if r.Multiplier <= 0 {
		r.Multiplier = retryDef.Multiplier
	}
	if r.CopyTimeoutBase <= 0 {
		r.CopyTimeoutBase = copyDef.Base
	}
	if r.CopyTimeoutPerSecond <= 0 {
		r.CopyTimeoutPerSecond = copyDef.PerSecond
	}
	if r.CopyTimeoutMax <= 0 {
		r.CopyTimeoutMax = copyDef.Max
	}
	if r.RenderTimeoutBase <= 0 {
		r.RenderTimeoutBase = renderDef.Base
	}
	if r.RenderTimeoutPerSecond <= 0 {
		r.RenderTimeoutPerSecond = renderDef.PerSecond
	}
	if r.RenderTimeoutMax <= 0 {
		r.RenderTimeoutMax = renderDef.Max
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// OutputSpec returns the output template for jobs.
func (c *Config) OutputSpec() media.OutputSpec {
	spec := media.NewOutputSpec(media.ParseResolution(c.Render.Resolution))
	spec.CRF = c.Render.CRF
	spec.Preset = c.Render.X264Preset
	spec.AudioBitrate = c.Render.AudioBitrate
	spec.VideoBitrate = c.Render.VideoBitrate
	return spec
}

// EngineOptions returns the engine tuning from the render and retry sections.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Workers: c.Render.Workers,
		Retry: engine.RetryPolicy{
			Attempts:     c.Retry.Attempts,
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
			Multiplier:   c.Retry.Multiplier,
		},
		CopyTimeout: engine.TimeoutPolicy{
			Base:      c.Retry.CopyTimeoutBase,
			PerSecond: c.Retry.CopyTimeoutPerSecond,
			Max:       c.Retry.CopyTimeoutMax,
		},
		RenderTimeout: engine.TimeoutPolicy{
			Base:      c.Retry.RenderTimeoutBase,
			PerSecond: c.Retry.RenderTimeoutPerSecond,
			Max:       c.Retry.RenderTimeoutMax,
		},
		WorkDir:     c.FFmpeg.WorkDir,
		KeepWorkDir: c.Render.KeepWorkDir,
	}
}

// DefaultWatermark returns the configured watermark, or nil when no image
// is set.
func (c *Config) DefaultWatermark() *editmap.Watermark {
	w := c.Watermark
	if w.Image == "" {
		return nil
	}
	wm := &editmap.Watermark{Image: w.Image, Position: w.Position}
	if w.Scale > 0 {
		wm.Scale = &w.Scale
	}
	if w.Opacity > 0 {
		wm.Opacity = &w.Opacity
	}
	if w.Padding > 0 {
		wm.Padding = &w.Padding
	}
	return wm
}
