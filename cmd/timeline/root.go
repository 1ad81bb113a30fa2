// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/smarttimeline/internal/config"
	"github.com/ZSC714725/smarttimeline/internal/editmap"
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/logger"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

type rootOptions struct {
	configPath string
	ffmpegBin  string
	resolution string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Plan and render video edit maps",
		Long: `Plans an edit map into copy and render units and renders it with ffmpeg.

Examples:
  timeline plan --editmap edits.json --duration 42.5
  timeline plan --editmap edits.json --probe input.mp4
  timeline render --source input.mp4 --editmap edits.json --output out.mp4`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.ffmpegBin, "ffmpeg", "", "ffmpeg binary (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.resolution, "resolution", "", "output resolution: 720p, 1080p, 1440p or 4k")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newPlanCmd(opts), newRenderCmd(opts))
	return cmd
}

func (o *rootOptions) config() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.ffmpegBin != "" {
		cfg.FFmpeg.Path = o.ffmpegBin
	}
	if o.resolution != "" {
		cfg.Render.Resolution = string(media.ParseResolution(o.resolution))
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) logger.Logger {
	return logger.NewWithConfig("timeline", logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
}

func newFFmpeg(cfg *config.Config, log logger.Logger, skipSkills bool) (*ffmpeg.FFmpeg, error) {
	return ffmpeg.New(ffmpeg.Config{
		Binary:       cfg.FFmpeg.Path,
		ProbeBinary:  cfg.FFmpeg.ProbePath,
		MaxLogLines:  cfg.FFmpeg.LogLines,
		StaleTimeout: cfg.FFmpeg.StaleTimeout,
		Logger:       log.With("module", "ffmpeg"),
		SkipSkills:   skipSkills,
	})
}

// readEditMap lowers the edit map at path for a source of duration seconds.
func readEditMap(path string, duration float64, cfg *config.Config) ([]effect.Instruction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := editmap.Decode(f)
	if err != nil {
		return nil, err
	}
	if doc.Watermark == nil {
		doc.Watermark = cfg.DefaultWatermark()
	}
	return doc.Instructions(duration)
}
