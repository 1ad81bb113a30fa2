// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package ffmpeg

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ZSC714725/smarttimeline/internal/filtergraph"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// RenderJob re-encodes Range of Source through Graph into Output.
type RenderJob struct {
	Source string
	Output string
	Range  media.Range
	Graph  *filtergraph.FilterGraph
	Spec   media.OutputSpec
}

// CopyJob stream-copies Range of Source into Output.
type CopyJob struct {
	Source string
	Output string
	Range  media.Range
}

var baseArgs = []string{"-hide_banner", "-nostdin", "-y"}

// RenderArgs builds the ffmpeg arguments for a render job.
func RenderArgs(job RenderJob) []string {
	args := append([]string(nil), baseArgs...)
	args = append(args,
		"-ss", seconds(job.Range.Start),
		"-t", seconds(job.Range.Duration()),
		"-i", job.Source,
	)
	for _, in := range job.Graph.Inputs() {
		if in.Loop {
			args = append(args, "-loop", "1")
		}
		args = append(args, "-i", in.Input)
	}

	args = append(args, "-filter_complex", job.Graph.Complex(job.Spec.HasAudio), "-map", "[v]")
	if job.Spec.HasAudio {
		args = append(args, "-map", "[a]")
	}

	preset := job.Spec.Preset
	if preset == "" {
		preset = "veryfast"
	}
	crf := job.Spec.CRF
	if crf <= 0 {
		crf = 23
	}
	args = append(args, "-c:v", "libx264", "-preset", preset, "-crf", strconv.Itoa(crf))
	if job.Spec.VideoBitrate != "" {
		args = append(args, "-maxrate", job.Spec.VideoBitrate, "-bufsize", job.Spec.VideoBitrate)
	}
	if job.Spec.FPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(job.Spec.FPS, 'f', -1, 64))
	}
	if job.Spec.HasAudio {
		bitrate := job.Spec.AudioBitrate
		if bitrate == "" {
			bitrate = "128k"
		}
		args = append(args, "-c:a", "aac", "-b:a", bitrate)
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-t", seconds(job.Graph.OutputDuration),
		"-movflags", "+faststart",
		job.Output,
	)
	return args
}

// CopyArgs builds the ffmpeg arguments for a stream copy.
func CopyArgs(job CopyJob) []string {
	args := append([]string(nil), baseArgs...)
	return append(args,
		"-ss", seconds(job.Range.Start),
		"-t", seconds(job.Range.Duration()),
		"-i", job.Source,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		job.Output,
	)
}

// ConcatArgs builds the ffmpeg arguments for joining the units listed in
// listFile without re-encoding.
func ConcatArgs(listFile, output string) []string {
	args := append([]string(nil), baseArgs...)
	return append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	)
}

// WriteConcatList writes a concat demuxer list for paths.
func WriteConcatList(w io.Writer, paths []string) error {
	for _, p := range paths {
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", escaped); err != nil {
			return err
		}
	}
	return nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
