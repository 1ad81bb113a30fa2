// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package effect models the timed edit instructions of an edit map.
//
// An Instruction is a tagged union: Kind names the variant and Params holds
// the matching parameter struct. Params is sealed to this package so that
// consumers can switch over it exhaustively.
package effect

import (
	"fmt"

	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Kind is the variant tag of an Instruction.
type Kind string

const (
	KindZoom       Kind = "zoom"
	KindSpeed      Kind = "speed"
	KindCaption    Kind = "caption"
	KindColorGrade Kind = "color_grade"
	KindWatermark  Kind = "watermark"
)

// Kinds lists every kind in pipeline precedence order.
var Kinds = []Kind{KindZoom, KindSpeed, KindColorGrade, KindCaption, KindWatermark}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, x := range Kinds {
		if x == k {
			return true
		}
	}
	return false
}

// Params is the kind specific payload of an Instruction.
type Params interface {
	Kind() Kind
	sealed()
}

// Instruction is one timed edit over [Start, End) of the source.
type Instruction struct {
	ID     string  `json:"id,omitempty"`
	Kind   Kind    `json:"kind"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Params Params  `json:"params"`
}

// Range returns the instruction's time range.
func (i Instruction) Range() media.Range {
	return media.Range{Start: i.Start, End: i.End}
}

// Check verifies that the tag and payload agree. Time bounds are checked by
// the timeline builder, which knows the media duration.
func (i Instruction) Check() error {
	if !i.Kind.Valid() {
		return errs.Validation("instruction %q: unknown kind %q", i.ID, i.Kind)
	}
	if i.Params == nil {
		return errs.Validation("instruction %q: missing %s params", i.ID, i.Kind)
	}
	if i.Params.Kind() != i.Kind {
		return errs.Validation("instruction %q: kind %s carries %s params", i.ID, i.Kind, i.Params.Kind())
	}
	return nil
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s%s", i.Kind, i.Range())
}

// Zoom crops toward (AnchorX, AnchorY), given in normalized [0,1] frame
// coordinates, by Factor. Factors <= 1 leave the frame uncropped.
type Zoom struct {
	Factor  float64 `json:"factor"`
	AnchorX float64 `json:"anchor_x"`
	AnchorY float64 `json:"anchor_y"`
}

// Speed retimes the segment; the output duration is source duration / Factor.
type Speed struct {
	Factor float64 `json:"factor"`
}

// CaptionStyle mirrors the style object of an edit map subtitle.
type CaptionStyle struct {
	FontSize    int     `json:"fontSize"`
	FontFile    string  `json:"fontFile,omitempty"`
	Color       string  `json:"color"`
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth int     `json:"strokeWidth"`
	TextAlign   string  `json:"textAlign"`
	PositionX   float64 `json:"positionX"`
	PositionY   float64 `json:"positionY"`
}

// DefaultCaptionStyle is bottom-centred white text with a black outline.
func DefaultCaptionStyle() CaptionStyle {
	return CaptionStyle{
		FontSize:    38,
		Color:       "#FFFFFF",
		StrokeColor: "#000000",
		StrokeWidth: 5,
		TextAlign:   "center",
		PositionX:   50,
		PositionY:   85,
	}
}

// Caption burns Text into the frame while active.
type Caption struct {
	Text  string       `json:"text"`
	Style CaptionStyle `json:"style"`
}

// ColorGrade applies either a named preset, manual eq values or a 3D LUT.
type ColorGrade struct {
	Preset     string  `json:"preset,omitempty"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
	LUT        string  `json:"lut,omitempty"`
}

// Watermark positions.
const (
	PositionTopLeft     = "top_left"
	PositionTopRight    = "top_right"
	PositionBottomLeft  = "bottom_left"
	PositionBottomRight = "bottom_right"
)

// Watermark overlays Image scaled to Scale of the output width.
type Watermark struct {
	Image    string  `json:"image"`
	Position string  `json:"position"`
	Scale    float64 `json:"scale"`
	Opacity  float64 `json:"opacity"`
	Padding  int     `json:"padding"`
}

func (Zoom) Kind() Kind       { return KindZoom }
func (Speed) Kind() Kind      { return KindSpeed }
func (Caption) Kind() Kind    { return KindCaption }
func (ColorGrade) Kind() Kind { return KindColorGrade }
func (Watermark) Kind() Kind  { return KindWatermark }

func (Zoom) sealed()       {}
func (Speed) sealed()      {}
func (Caption) sealed()    {}
func (ColorGrade) sealed() {}
func (Watermark) sealed()  {}

// New builds an instruction whose Kind is taken from p.
func New(id string, start, end float64, p Params) Instruction {
	return Instruction{ID: id, Kind: p.Kind(), Start: start, End: end, Params: p}
}
