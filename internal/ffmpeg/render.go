// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Render re-encodes one segment through its filter graph.
func (f *FFmpeg) Render(ctx context.Context, job RenderJob) (Stats, error) {
	if job.Graph == nil {
		return Stats{}, fmt.Errorf("render %s: no filter graph", job.Range)
	}
	if !f.ValidateInput(job.Source) {
		return Stats{}, fmt.Errorf("%w: %s", ErrInvalidInput, job.Source)
	}
	for _, in := range job.Graph.Inputs() {
		if !f.ValidateInput(in.Input) {
			return Stats{}, fmt.Errorf("%w: %s", ErrInvalidInput, in.Input)
		}
	}
	log := f.logger.With("unit", filepath.Base(job.Output))
	return f.run(ctx, "render", RenderArgs(job), job.Graph.OutputDuration, log)
}

// Copy stream-copies one segment.
func (f *FFmpeg) Copy(ctx context.Context, job CopyJob) (Stats, error) {
	if !f.ValidateInput(job.Source) {
		return Stats{}, fmt.Errorf("%w: %s", ErrInvalidInput, job.Source)
	}
	log := f.logger.With("unit", filepath.Base(job.Output))
	return f.run(ctx, "copy", CopyArgs(job), job.Range.Duration(), log)
}

// Join concatenates already-encoded units into output with the concat
// demuxer. Nothing is decoded.
func (f *FFmpeg) Join(ctx context.Context, paths []string, output string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if !f.ValidateOutput(output) {
		return fmt.Errorf("%w: %s", ErrInvalidOutput, output)
	}

	list, err := os.CreateTemp(filepath.Dir(paths[0]), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	abs := make([]string, len(paths))
	for i, p := range paths {
		if abs[i], err = filepath.Abs(p); err != nil {
			list.Close()
			return err
		}
	}
	if err := WriteConcatList(list, abs); err != nil {
		list.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	if err := list.Close(); err != nil {
		return err
	}

	f.logger.Info("concatenating %d units into %s", len(paths), output)
	_, err = f.run(ctx, "concat", ConcatArgs(list.Name(), output), 0, f.logger.With("output", output))
	return err
}
