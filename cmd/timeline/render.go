// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/smarttimeline/internal/engine"
)

type renderOptions struct {
	source   string
	editMap  string
	output   string
	workers  int
	keepWork bool
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an edit map over a source video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.source); err != nil {
				return fmt.Errorf("source: %w", err)
			}
			cfg, err := root.config()
			if err != nil {
				return err
			}
			log := root.logger(cmd, cfg)

			ff, err := newFFmpeg(cfg, log, false)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			info, err := ff.Probe(ctx, opts.source)
			if err != nil {
				return err
			}
			instructions, err := readEditMap(opts.editMap, info.Duration, cfg)
			if err != nil {
				return err
			}

			engineOpts := cfg.EngineOptions()
			if opts.workers > 0 {
				engineOpts.Workers = opts.workers
			}
			engineOpts.KeepWorkDir = engineOpts.KeepWorkDir || opts.keepWork
			engineOpts.Logger = log

			spec := cfg.OutputSpec()
			spec.SourceWidth, spec.SourceHeight = info.Width, info.Height
			spec.FPS = info.FPS
			spec.HasAudio = info.HasAudio

			eng := engine.New(ff, ff, ff, engineOpts)
			job := eng.NewJob(engine.Request{
				ID:           "local",
				Source:       opts.source,
				Output:       opts.output,
				Instructions: instructions,
				Duration:     info.Duration,
				Spec:         spec,
			})
			out, err := eng.Run(ctx, job)
			if err != nil {
				if ctx.Err() != nil && cmd.Context().Err() == nil {
					return fmt.Errorf("interrupted: %w", err)
				}
				return err
			}

			for _, u := range job.Snapshot().Units {
				fmt.Fprintf(cmd.OutOrStdout(), "unit %d [%.3f,%.3f) %s attempts=%d took=%s peak_cpu=%.1f%%\n",
					u.Index, u.Start, u.End, u.Strategy, u.Attempts, u.Stats.Duration, u.Stats.PeakCPU)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.3fs)\n", out.Path, out.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "source video")
	cmd.Flags().StringVar(&opts.editMap, "editmap", "", "edit map JSON file")
	cmd.Flags().StringVar(&opts.output, "output", "", "output file")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "parallel units (overrides config)")
	cmd.Flags().BoolVar(&opts.keepWork, "keep-work-dir", false, "keep rendered units after assembly")
	for _, name := range []string{"source", "editmap", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
