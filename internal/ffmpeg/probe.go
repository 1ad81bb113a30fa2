// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// SourceInfo is what the engine needs to know about a source file.
type SourceInfo struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	HasAudio   bool    `json:"has_audio"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec"`
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// Probe reads duration, geometry, frame rate and audio presence of path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (SourceInfo, error) {
	if !f.ValidateInput(path) {
		return SourceInfo{}, fmt.Errorf("%w: %s", ErrInvalidInput, path)
	}
	out, err := f.probe(ctx,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return SourceInfo{}, err
	}
	return ParseProbe(out)
}

// ParseProbe decodes ffprobe -print_format json output.
func ParseProbe(data []byte) (SourceInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return SourceInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var info SourceInfo
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	video := false
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if video {
				continue
			}
			video = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			info.FPS = ParseFrameRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = ParseFrameRate(s.RFrameRate)
			}
			if info.Duration == 0 {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					info.Duration = d
				}
			}
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if !video {
		return info, ErrNoVideo
	}
	return info, nil
}

// ParseFrameRate parses "num/den" or a plain number; invalid input is 0.
func ParseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Keyframes loads the keyframe timestamps of the first video stream. A cut
// is safe within tolerance seconds of a keyframe.
func (f *FFmpeg) Keyframes(ctx context.Context, path string, tolerance float64) (*KeyframeIndex, error) {
	if !f.ValidateInput(path) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, path)
	}
	out, err := f.probe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-skip_frame", "nokey",
		"-show_entries", "frame=pts_time",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return nil, err
	}
	times, err := ParseKeyframes(out)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("loaded %d keyframes from %s", len(times), path)
	return NewKeyframeIndex(times, tolerance), nil
}

// ParseKeyframes reads one pts_time per line; N/A entries are skipped.
func ParseKeyframes(data []byte) ([]float64, error) {
	var times []float64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.Trim(strings.TrimSpace(scanner.Text()), ",")
		if line == "" || line == "N/A" {
			continue
		}
		t, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("keyframe time %q: %w", line, err)
		}
		times = append(times, t)
	}
	return times, scanner.Err()
}

func (f *FFmpeg) probe(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.probeBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &RunError{Op: "probe", Tail: tail(stderr.String(), 5), Err: err}
	}
	return out, nil
}

func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// KeyframeIndex answers keyframe-safety queries for one source.
type KeyframeIndex struct {
	times     []float64
	tolerance float64
}

// NewKeyframeIndex indexes times. tolerance is usually half a frame.
func NewKeyframeIndex(times []float64, tolerance float64) *KeyframeIndex {
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	return &KeyframeIndex{times: sorted, tolerance: math.Abs(tolerance)}
}

// IsSafeCut reports whether a keyframe lies within tolerance of t.
func (k *KeyframeIndex) IsSafeCut(t float64) bool {
	i := sort.SearchFloat64s(k.times, t)
	if i < len(k.times) && k.times[i]-t <= k.tolerance {
		return true
	}
	return i > 0 && t-k.times[i-1] <= k.tolerance
}

// Len returns the number of keyframes.
func (k *KeyframeIndex) Len() int { return len(k.times) }
