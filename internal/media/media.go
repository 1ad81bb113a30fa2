// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package media holds the small value types shared by every stage of the
// timeline engine: time ranges, output resolutions and the output spec.
package media

import (
	"fmt"
	"math"
)

// Epsilon is the smallest distance between two timeline breakpoints that
// is treated as a real interval.
const Epsilon = 1e-6

// Range is a half-open interval [Start, End) in source seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r Range) Duration() float64 {
	return r.End - r.Start
}

// Covers reports whether r fully contains o.
func (r Range) Covers(o Range) bool {
	return r.Start <= o.Start && r.End >= o.End
}

// Overlaps reports whether r and o share a non-empty interval.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%.3f,%.3f)", r.Start, r.End)
}

// Resolution is the output resolution preset requested by a job.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution1440p Resolution = "1440p"
	Resolution4K    Resolution = "4k"

	// ResolutionOriginal keeps the source geometry.
	ResolutionOriginal Resolution = "original"
)

var resolutions = map[Resolution][2]int{
	Resolution720p:  {1280, 720},
	Resolution1080p: {1920, 1080},
	Resolution1440p: {2560, 1440},
	Resolution4K:    {3840, 2160},
}

// ParseResolution maps a user supplied string onto a Resolution. Unknown
// values fall back to 720p.
func ParseResolution(s string) Resolution {
	r := Resolution(s)
	if r.Valid() {
		return r
	}
	return Resolution720p
}

// Valid reports whether r is one of the known presets or original.
func (r Resolution) Valid() bool {
	_, ok := resolutions[r]
	return ok || r == ResolutionOriginal
}

// Size returns the pixel size of the preset. Original has no fixed size
// and returns zeros.
func (r Resolution) Size() (width, height int) {
	if r == ResolutionOriginal {
		return 0, 0
	}
	wh, ok := resolutions[r]
	if !ok {
		wh = resolutions[Resolution720p]
	}
	return wh[0], wh[1]
}

// OutputSpec describes the output stream every rendered unit must match.
type OutputSpec struct {
	Resolution   Resolution `json:"resolution" yaml:"resolution"`
	Width        int        `json:"width" yaml:"-"`
	Height       int        `json:"height" yaml:"-"`
	SourceWidth  int        `json:"source_width" yaml:"-"`
	SourceHeight int        `json:"source_height" yaml:"-"`
	FPS          float64    `json:"fps" yaml:"-"`
	HasAudio     bool       `json:"has_audio" yaml:"-"`
	VideoBitrate string     `json:"video_bitrate,omitempty" yaml:"video_bitrate"`
	AudioBitrate string     `json:"audio_bitrate" yaml:"audio_bitrate"`
	CRF          int        `json:"crf" yaml:"crf"`
	Preset       string     `json:"preset" yaml:"preset"`
}

// NewOutputSpec returns a spec for the given resolution with the pixel
// size filled in. Original leaves it unset until the source is probed.
func NewOutputSpec(res Resolution) OutputSpec {
	w, h := res.Size()
	return OutputSpec{
		Resolution:   res,
		Width:        w,
		Height:       h,
		AudioBitrate: "128k",
		CRF:          23,
		Preset:       "veryfast",
	}
}

// Size returns the output width and height, resolving them from the
// resolution preset when unset. Original resolves to the source geometry,
// or 720p while the source is unknown.
func (s OutputSpec) Size() (int, int) {
	if s.Width > 0 && s.Height > 0 {
		return s.Width, s.Height
	}
	if s.Resolution == ResolutionOriginal {
		if s.SourceWidth > 0 && s.SourceHeight > 0 {
			return s.SourceWidth, s.SourceHeight
		}
		return Resolution720p.Size()
	}
	return s.Resolution.Size()
}

// NeedsRescale reports whether the source geometry is known and differs
// from the output geometry.
func (s OutputSpec) NeedsRescale() bool {
	if s.SourceWidth <= 0 || s.SourceHeight <= 0 {
		return false
	}
	w, h := s.Size()
	return s.SourceWidth != w || s.SourceHeight != h
}

// FrameDuration is the duration of one source frame. 30fps is assumed when
// the frame rate is unknown.
func (s OutputSpec) FrameDuration() float64 {
	if s.FPS <= 0 || math.IsInf(s.FPS, 0) || math.IsNaN(s.FPS) {
		return 1.0 / 30.0
	}
	return 1.0 / s.FPS
}
