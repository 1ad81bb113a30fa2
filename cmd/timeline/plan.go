// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

type planOptions struct {
	editMap  string
	duration float64
	probe    string
	asJSON   bool
}

func newPlanCmd(root *rootOptions) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the render plan and filter graphs of an edit map",
		Long: `Builds the timeline of an edit map, decides per unit whether it is copied or
re-encoded and prints the compiled filter graphs. Nothing is rendered.

Without --probe every cut is assumed keyframe-safe and --duration is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			log := root.logger(cmd, cfg)

			var prober engine.Prober
			source := opts.probe
			if source != "" {
				ff, err := newFFmpeg(cfg, log, true)
				if err != nil {
					return err
				}
				prober = ff
			}

			duration := opts.duration
			if duration <= 0 && prober != nil {
				info, err := prober.Probe(cmd.Context(), source)
				if err != nil {
					return err
				}
				duration = info.Duration
			}
			if duration <= 0 {
				return fmt.Errorf("--duration or --probe is required")
			}

			instructions, err := readEditMap(opts.editMap, duration, cfg)
			if err != nil {
				return err
			}

			eng := engine.New(nil, nil, prober, engine.Options{Logger: log})
			req := engine.Request{
				ID:           "plan",
				Source:       source,
				Instructions: instructions,
				Duration:     duration,
				Spec:         cfg.OutputSpec(),
			}
			if prober == nil {
				req.Probe = planner.AllSafe
			}
			job := eng.NewJob(req)
			if err := eng.Prepare(cmd.Context(), job); err != nil {
				return err
			}

			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job.Plan())
			}
			return printPlan(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&opts.editMap, "editmap", "", "edit map JSON file")
	cmd.Flags().Float64Var(&opts.duration, "duration", 0, "source duration in seconds")
	cmd.Flags().StringVar(&opts.probe, "probe", "", "source file to probe for duration, geometry and keyframes")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("editmap")
	return cmd
}

func printPlan(w io.Writer, job *engine.Job) error {
	plan := job.Plan()
	copies, renders := plan.Counts()
	width, height := plan.Output.Size()
	fmt.Fprintf(w, "duration %.3fs, output %dx%d, %d segments, %d units (%d copy, %d render)\n\n",
		plan.Duration, width, height, len(plan.Segments), len(plan.Units), copies, renders)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tRANGE\tSTRATEGY\tREASON\tSEGMENTS")
	for _, u := range plan.Units {
		segs := make([]string, len(u.Segments))
		for i, s := range u.Segments {
			segs[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.Index, u.Range(), u.Strategy, u.Reason, strings.Join(segs, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, u := range plan.Units {
		if u.Strategy != timeline.StrategyRender {
			continue
		}
		g, ok := job.Graph(u.Index)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\nunit %d %s -> %.3fs [%s]\n  %s\n",
			u.Index, u.Range(), g.OutputDuration, strings.Join(g.StageNames(), " > "), g.Complex(plan.Output.HasAudio))
	}
	return nil
}
