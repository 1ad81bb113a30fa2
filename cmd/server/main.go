// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package main

import (
	"flag"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/smarttimeline/internal/api"
	"github.com/ZSC714725/smarttimeline/internal/config"
	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/job"
	"github.com/ZSC714725/smarttimeline/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	ffmpegBin := flag.String("ffmpeg", "", "FFmpeg binary path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.New("smarttimeline").Error("load config: %v", err)
			os.Exit(1)
		}
	}

	bindAddr := cfg.Server.Bind
	if *bind != "" {
		bindAddr = *bind
	}
	ffmpegPath := cfg.FFmpeg.Path
	if *ffmpegBin != "" {
		ffmpegPath = *ffmpegBin
	}

	log := logger.NewWithConfig("smarttimeline", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	fatal := func(format string, args ...interface{}) {
		log.Error(format, args...)
		os.Exit(1)
	}

	inputValidator, err := ffmpeg.NewValidator(cfg.FFmpeg.Input.Allow, cfg.FFmpeg.Input.Block)
	if err != nil {
		fatal("input validator: %v", err)
	}
	outputValidator, err := ffmpeg.NewValidator(cfg.FFmpeg.Output.Allow, cfg.FFmpeg.Output.Block)
	if err != nil {
		fatal("output validator: %v", err)
	}

	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:          ffmpegPath,
		ProbeBinary:     cfg.FFmpeg.ProbePath,
		MaxLogLines:     cfg.FFmpeg.LogLines,
		StaleTimeout:    cfg.FFmpeg.StaleTimeout,
		ValidatorInput:  inputValidator,
		ValidatorOutput: outputValidator,
		Logger:          log.With("module", "ffmpeg"),
	})
	if err != nil {
		fatal("ffmpeg init: %v", err)
	}

	opts := cfg.EngineOptions()
	opts.Logger = log.With("module", "engine")
	eng := engine.New(ff, ff, ff, opts)

	store := job.NewStore(job.Config{
		Engine:    eng,
		Prober:    ff,
		Validator: ff,
		Spec:      cfg.OutputSpec(),
		Watermark: cfg.DefaultWatermark(),
		Logger:    log.With("module", "jobs"),
	})
	handler := api.NewHandler(store, ff)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), cors.Default())

	handler.Register(r.Group("/api/v1"))

	log.Info("SmartTimeline listening on %s (preset %s, %d workers)", bindAddr, cfg.Render.Preset, cfg.Render.Workers)
	if err := r.Run(bindAddr); err != nil {
		fatal("server: %v", err)
	}
}
