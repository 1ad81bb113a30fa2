// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package editmap decodes the JSON edit map produced by the editor UI and
// lowers it into effect instructions.
package editmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
)

// Document is a decoded edit map.
type Document struct {
	Edits      []Edit      `json:"edits"`
	Subtitles  []Subtitle  `json:"subtitles"`
	ColorGrade *ColorGrade `json:"colorGrade,omitempty"`
	Watermark  *Watermark  `json:"watermark,omitempty"`
}

// Edit is a zoom and/or speed change over [Start, End).
type Edit struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Start    *float64  `json:"start"`
	End      *float64  `json:"end"`
	Zoom     ZoomValue `json:"zoom"`
	Speed    *float64  `json:"speed,omitempty"`
	AnchorX  *float64  `json:"anchorX,omitempty"`
	AnchorY  *float64  `json:"anchorY,omitempty"`
	IsLocked bool      `json:"isLocked,omitempty"`
}

// Position is a caption anchor in percent of the frame.
type Position struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

// Style is the subtitle style object; absent keys take caption defaults.
type Style struct {
	FontSize    *int      `json:"fontSize,omitempty"`
	FontFile    string    `json:"fontFile,omitempty"`
	Color       string    `json:"color,omitempty"`
	StrokeColor string    `json:"strokeColor,omitempty"`
	StrokeWidth *int      `json:"strokeWidth,omitempty"`
	TextAlign   string    `json:"textAlign,omitempty"`
	Position    *Position `json:"position,omitempty"`
}

// Subtitle is a caption shown over [Start, End).
type Subtitle struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Start    *float64 `json:"start"`
	End      *float64 `json:"end"`
	Style    *Style   `json:"style,omitempty"`
	IsLocked bool     `json:"isLocked,omitempty"`
}

// ColorGrade applies to [Start, End), or the whole timeline when omitted.
type ColorGrade struct {
	Start      *float64 `json:"start,omitempty"`
	End        *float64 `json:"end,omitempty"`
	Preset     string   `json:"preset,omitempty"`
	Brightness float64  `json:"brightness,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	LUT        string   `json:"lut,omitempty"`
}

// Watermark applies to [Start, End), or the whole timeline when omitted.
type Watermark struct {
	Start    *float64 `json:"start,omitempty"`
	End      *float64 `json:"end,omitempty"`
	Image    string   `json:"image"`
	Position string   `json:"position,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Padding  *int     `json:"padding,omitempty"`
}

// ZoomValue accepts a number, a numeric string or "none".
type ZoomValue struct {
	Factor float64
	Set    bool
}

func (z *ZoomValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*z = ZoomValue{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || s == "none" {
			*z = ZoomValue{Factor: 1, Set: true}
			return nil
		}
		s = strings.TrimSuffix(s, "x")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("zoom %q is not a number", s)
		}
		*z = ZoomValue{Factor: f, Set: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("zoom: %w", err)
	}
	*z = ZoomValue{Factor: f, Set: true}
	return nil
}

func (z ZoomValue) MarshalJSON() ([]byte, error) {
	if !z.Set {
		return []byte("null"), nil
	}
	return json.Marshal(z.Factor)
}

// Parse decodes an edit map.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one edit map document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errs.Validation("malformed edit map: %v", err)
	}
	return &doc, nil
}

// Instructions lowers the document into effect instructions over a timeline
// of the given duration. Entries that cannot be lowered are validation
// errors; bounds against duration are left to the timeline builder.
func (d *Document) Instructions(duration float64) ([]effect.Instruction, error) {
	var out []effect.Instruction

	for i, e := range d.Edits {
		ins, err := e.instructions(i)
		if err != nil {
			return nil, err
		}
		out = append(out, ins...)
	}

	for i, s := range d.Subtitles {
		in, err := s.instruction(i)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}

	if d.ColorGrade != nil {
		in, err := d.ColorGrade.instruction(duration)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}

	if d.Watermark != nil {
		in, err := d.Watermark.instruction(duration)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func (e Edit) instructions(i int) ([]effect.Instruction, error) {
	id := e.ID
	if id == "" {
		id = fmt.Sprintf("edit-%d", i)
	}
	start, end, err := bounds(id, e.Start, e.End, nil)
	if err != nil {
		return nil, err
	}

	switch e.Type {
	case "", "zoom", "speed", "edit", "zoom_speed":
	default:
		return nil, errs.Validation("edit %q: unsupported type %q", id, e.Type)
	}

	factor := 1.0
	if e.Zoom.Set {
		factor = e.Zoom.Factor
	}
	speed := 1.0
	if e.Speed != nil {
		speed = *e.Speed
	}
	if !finite(factor) || !finite(speed) {
		return nil, errs.Validation("edit %q: non-finite zoom or speed", id)
	}

	var out []effect.Instruction
	if factor > 1 || e.Type == "zoom" {
		out = append(out, effect.New(id+"/zoom", start, end, effect.Zoom{
			Factor:  factor,
			AnchorX: orDefault(e.AnchorX, 0.5),
			AnchorY: orDefault(e.AnchorY, 0.5),
		}))
	}
	if speed != 1 {
		out = append(out, effect.New(id+"/speed", start, end, effect.Speed{Factor: speed}))
	}
	return out, nil
}

func (s Subtitle) instruction(i int) (effect.Instruction, error) {
	id := s.ID
	if id == "" {
		id = fmt.Sprintf("subtitle-%d", i)
	}
	start, end, err := bounds(id, s.Start, s.End, nil)
	if err != nil {
		return effect.Instruction{}, err
	}
	if strings.TrimSpace(s.Text) == "" {
		return effect.Instruction{}, errs.Validation("subtitle %q: empty text", id)
	}
	return effect.New(id, start, end, effect.Caption{Text: s.Text, Style: s.Style.resolve()}), nil
}

func (st *Style) resolve() effect.CaptionStyle {
	out := effect.DefaultCaptionStyle()
	if st == nil {
		return out
	}
	if st.FontSize != nil {
		out.FontSize = *st.FontSize
	}
	if st.FontFile != "" {
		out.FontFile = st.FontFile
	}
	if st.Color != "" {
		out.Color = st.Color
	}
	if st.StrokeColor != "" {
		out.StrokeColor = st.StrokeColor
	}
	if st.StrokeWidth != nil {
		out.StrokeWidth = *st.StrokeWidth
	}
	if st.TextAlign != "" {
		out.TextAlign = st.TextAlign
	}
	if st.Position != nil {
		out.PositionX = orDefault(st.Position.X, out.PositionX)
		out.PositionY = orDefault(st.Position.Y, out.PositionY)
	}
	return out
}

func (c *ColorGrade) instruction(duration float64) (effect.Instruction, error) {
	start, end, err := bounds("colorGrade", c.Start, c.End, &duration)
	if err != nil {
		return effect.Instruction{}, err
	}
	if c.Preset != "" && c.Preset != "enhance" && c.Preset != "none" {
		return effect.Instruction{}, errs.Validation("colorGrade: unknown preset %q", c.Preset)
	}
	return effect.New("colorGrade", start, end, effect.ColorGrade{
		Preset:     c.Preset,
		Brightness: c.Brightness,
		Contrast:   orDefault(c.Contrast, 1),
		Saturation: orDefault(c.Saturation, 1),
		LUT:        c.LUT,
	}), nil
}

func (w *Watermark) instruction(duration float64) (effect.Instruction, error) {
	start, end, err := bounds("watermark", w.Start, w.End, &duration)
	if err != nil {
		return effect.Instruction{}, err
	}
	if w.Image == "" {
		return effect.Instruction{}, errs.Validation("watermark: missing image")
	}
	pos := w.Position
	switch pos {
	case "":
		pos = effect.PositionBottomLeft
	case effect.PositionTopLeft, effect.PositionTopRight, effect.PositionBottomLeft, effect.PositionBottomRight:
	default:
		return effect.Instruction{}, errs.Validation("watermark: unknown position %q", pos)
	}
	padding := 20
	if w.Padding != nil {
		padding = *w.Padding
	}
	return effect.New("watermark", start, end, effect.Watermark{
		Image:    w.Image,
		Position: pos,
		Scale:    orDefault(w.Scale, 0.08),
		Opacity:  orDefault(w.Opacity, 0.85),
		Padding:  padding,
	}), nil
}

// bounds resolves an entry's range. A nil whole means both ends are
// required; otherwise missing ends default to [0, *whole).
func bounds(id string, start, end *float64, whole *float64) (float64, float64, error) {
	if whole == nil && (start == nil || end == nil) {
		return 0, 0, errs.Validation("%s: start and end are required", id)
	}
	s, e := 0.0, 0.0
	if whole != nil {
		e = *whole
	}
	if start != nil {
		s = *start
	}
	if end != nil {
		e = *end
	}
	if !finite(s) || !finite(e) {
		return 0, 0, errs.Validation("%s: non-finite bounds", id)
	}
	return s, e, nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
