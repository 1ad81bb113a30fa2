// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package filtergraph compiles the effects active on a segment into one
// ordered FFmpeg filter pipeline.
//
// Execution order is fixed regardless of how the instructions were
// declared: output scale, geometry (zoom), temporal (speed), colour grade,
// caption, watermark. Every stage after speed sees retimed timestamps.
package filtergraph

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// Overlay is a stage that composites a second input over the main chain.
type Overlay struct {
	Input   string   `json:"input"`
	Loop    bool     `json:"loop"`
	Prepare []string `json:"prepare"`
	X       string   `json:"x"`
	Y       string   `json:"y"`
}

// Stage is one named step of the pipeline with its resolved filters.
type Stage struct {
	Name    string      `json:"name"`
	Kind    effect.Kind `json:"kind,omitempty"`
	Video   []string    `json:"video,omitempty"`
	Audio   []string    `json:"audio,omitempty"`
	Overlay *Overlay    `json:"overlay,omitempty"`
}

// FilterGraph is the compiled pipeline for one render segment.
type FilterGraph struct {
	Segment        int         `json:"segment"`
	Range          media.Range `json:"range"`
	Width          int         `json:"width"`
	Height         int         `json:"height"`
	Speed          float64     `json:"speed"`
	OutputDuration float64     `json:"output_duration"`
	Stages         []Stage     `json:"stages"`
}

// StageNames lists the stage names in execution order.
func (g *FilterGraph) StageNames() []string {
	names := make([]string, len(g.Stages))
	for i, s := range g.Stages {
		names[i] = s.Name
	}
	return names
}

// Stage returns the stage named name.
func (g *FilterGraph) Stage(name string) (Stage, bool) {
	for _, s := range g.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Inputs returns the extra inputs (after the source) the graph reads.
func (g *FilterGraph) Inputs() []Overlay {
	var out []Overlay
	for _, s := range g.Stages {
		if s.Overlay != nil {
			out = append(out, *s.Overlay)
		}
	}
	return out
}

// AudioFilters returns the audio chain; empty means pass-through.
func (g *FilterGraph) AudioFilters() []string {
	var out []string
	for _, s := range g.Stages {
		out = append(out, s.Audio...)
	}
	return out
}

// Complex renders the graph as an FFmpeg -filter_complex value whose
// outputs are labelled [v] and, when hasAudio is set, [a].
func (g *FilterGraph) Complex(hasAudio bool) string {
	var parts, chain []string
	in := "[0:v]"
	extra := 1
	for _, s := range g.Stages {
		if s.Overlay == nil {
			chain = append(chain, s.Video...)
			continue
		}
		base := fmt.Sprintf("[b%d]", extra)
		ov := fmt.Sprintf("[o%d]", extra)
		mixed := fmt.Sprintf("[m%d]", extra)
		parts = append(parts,
			in+joinFilters(chain, "null")+base,
			fmt.Sprintf("[%d:v]%s%s", extra, strings.Join(s.Overlay.Prepare, ","), ov),
			fmt.Sprintf("%s%soverlay=%s:%s:shortest=1%s", base, ov, s.Overlay.X, s.Overlay.Y, mixed),
		)
		chain = nil
		in = mixed
		extra++
	}
	parts = append(parts, in+joinFilters(chain, "null")+"[v]")

	if hasAudio {
		parts = append(parts, "[0:a]"+joinFilters(g.AudioFilters(), "anull")+"[a]")
	}
	return strings.Join(parts, ";")
}

func joinFilters(filters []string, empty string) string {
	if len(filters) == 0 {
		return empty
	}
	return strings.Join(filters, ",")
}

// Compile builds the FilterGraph for seg from the instructions active on
// it. It fails with a composition error when two instructions of one kind
// are active together, which a validated timeline never produces, or when
// an instruction's parameters cannot be resolved.
func Compile(seg timeline.Segment, effects []effect.Instruction, out media.OutputSpec) (*FilterGraph, error) {
	byKind := make(map[effect.Kind]effect.Instruction, len(effects))
	for _, in := range effects {
		if prev, dup := byKind[in.Kind]; dup {
			return nil, errs.Composition(seg.Index, seg.Range(),
				"%s instructions %q and %q resolve on the same segment", in.Kind, prev.ID, in.ID)
		}
		byKind[in.Kind] = in
	}

	w, h := out.Size()
	g := &FilterGraph{
		Segment: seg.Index,
		Range:   seg.Range(),
		Width:   w,
		Height:  h,
		Speed:   1,
	}
	g.Stages = append(g.Stages, Stage{
		Name:  "scale",
		Video: []string{fmt.Sprintf("scale=%d:%d:flags=lanczos", w, h), "setsar=1"},
	})

	for _, kind := range effect.Kinds {
		in, ok := byKind[kind]
		if !ok {
			continue
		}
		if err := in.Check(); err != nil {
			return nil, errs.Composition(seg.Index, seg.Range(), "%v", err)
		}

		var stage Stage
		var err error
		switch p := in.Params.(type) {
		case effect.Zoom:
			stage, err = zoomStage(p, w, h)
		case effect.Speed:
			stage, err = speedStage(p, out.HasAudio)
			if err == nil {
				g.Speed = p.Factor
			}
		case effect.ColorGrade:
			stage = colorStage(p)
		case effect.Caption:
			stage = captionStage(p, in.Range(), seg.Range(), g.Speed, w, h)
		case effect.Watermark:
			stage, err = watermarkStage(p, w)
		}
		if err != nil {
			return nil, errs.Composition(seg.Index, seg.Range(), "%s %q: %v", in.Kind, in.ID, err)
		}
		stage.Kind = kind
		if len(stage.Video) > 0 || len(stage.Audio) > 0 || stage.Overlay != nil {
			g.Stages = append(g.Stages, stage)
		}
	}

	g.OutputDuration = seg.Duration() / g.Speed
	return g, nil
}

// ZoomRect is the crop rectangle of a zoom in output pixels.
type ZoomRect struct {
	W, H, X, Y int
}

// CropRect computes the crop for zoom factor f anchored at (ax, ay) on a
// w x h frame. Anchors outside [0,1] and rectangles leaving the frame are
// clamped, not rejected.
func CropRect(f, ax, ay float64, w, h int) ZoomRect {
	ax, ay = clamp(ax, 0, 1), clamp(ay, 0, 1)
	cw := even(int(float64(w) / f))
	ch := even(int(float64(h) / f))
	cx := int(ax*float64(w) - float64(cw)/2)
	cy := int(ay*float64(h) - float64(ch)/2)
	return ZoomRect{
		W: cw,
		H: ch,
		X: clampInt(cx, 0, w-cw),
		Y: clampInt(cy, 0, h-ch),
	}
}

func zoomStage(p effect.Zoom, w, h int) (Stage, error) {
	if !(p.Factor > 0) || math.IsInf(p.Factor, 0) {
		return Stage{}, fmt.Errorf("zoom factor must be > 0, got %v", p.Factor)
	}
	s := Stage{Name: "zoom"}
	if p.Factor <= 1 {
		return s, nil
	}
	r := CropRect(p.Factor, p.AnchorX, p.AnchorY, w, h)
	s.Video = []string{
		fmt.Sprintf("crop=%d:%d:%d:%d", r.W, r.H, r.X, r.Y),
		fmt.Sprintf("scale=%d:%d:flags=lanczos", w, h),
	}
	return s, nil
}

func speedStage(p effect.Speed, hasAudio bool) (Stage, error) {
	if !(p.Factor > 0) || math.IsInf(p.Factor, 0) {
		return Stage{}, fmt.Errorf("speed factor must be > 0, got %v", p.Factor)
	}
	s := Stage{Name: "speed"}
	if p.Factor == 1 {
		return s, nil
	}
	s.Video = []string{"setpts=" + num(1/p.Factor) + "*PTS"}
	if hasAudio {
		s.Audio = AtempoChain(p.Factor)
	}
	return s, nil
}

// AtempoChain splits factor into atempo filters, each within [0.5, 2].
func AtempoChain(factor float64) []string {
	var out []string
	v := factor
	for v > 2.0 {
		out = append(out, "atempo=2")
		v /= 2.0
	}
	for v < 0.5 {
		out = append(out, "atempo=0.5")
		v *= 2.0
	}
	if v != 1.0 {
		out = append(out, "atempo="+num(v))
	}
	return out
}

// enhanceGrade is the house look: mild contrast and saturation lift plus
// sharpening.
const enhanceGrade = "eq=brightness=0.02:contrast=1.1:saturation=1.15"

func colorStage(p effect.ColorGrade) Stage {
	s := Stage{Name: "color_grade"}
	switch {
	case p.LUT != "":
		s.Video = []string{"lut3d=file='" + EscapeText(p.LUT) + "'"}
	case p.Preset == "enhance":
		s.Video = []string{enhanceGrade, "unsharp=3:3:1.5:3:3:0.5", "vibrance=intensity=0.15"}
	default:
		contrast, saturation := p.Contrast, p.Saturation
		// Zero means unset; a literal zero would flatten the image.
		if contrast == 0 {
			contrast = 1
		}
		if saturation == 0 {
			saturation = 1
		}
		s.Video = []string{fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
			num(p.Brightness), num(contrast), num(saturation))}
	}
	return s
}

// captionStage renders a drawtext filter. Its enable window is relative to
// the segment start and divided by speed, because the stage runs after
// the retime.
func captionStage(p effect.Caption, span, seg media.Range, speed float64, w, h int) Stage {
	st := p.Style
	def := effect.DefaultCaptionStyle()
	if st.FontSize <= 0 {
		st.FontSize = def.FontSize
	}
	if st.Color == "" {
		st.Color = def.Color
	}
	if st.StrokeColor == "" {
		st.StrokeColor = def.StrokeColor
	}
	if st.TextAlign == "" {
		st.TextAlign = def.TextAlign
	}
	px := clamp(st.PositionX, 0, 100)
	py := clamp(st.PositionY, 0, 100)

	var x string
	switch strings.ToLower(st.TextAlign) {
	case "center":
		x = "(w-tw)/2"
	case "right":
		x = fmt.Sprintf("w-tw-%d", int((100-px)/100*float64(w)))
	default:
		x = strconv.Itoa(int(px / 100 * float64(w)))
	}
	y := int(py / 100 * float64(h))

	from := math.Max(0, span.Start-seg.Start) / speed
	to := (math.Min(span.End, seg.End) - seg.Start) / speed

	opts := []string{
		"x=" + x,
		"y=" + strconv.Itoa(y),
		"text='" + EscapeText(p.Text) + "'",
		"fontsize=" + strconv.Itoa(st.FontSize),
		"fontcolor=" + hexColor(st.Color),
		"borderw=" + strconv.Itoa(st.StrokeWidth),
		"bordercolor=" + hexColor(st.StrokeColor),
	}
	if st.FontFile != "" {
		opts = append(opts, "fontfile='"+EscapeText(st.FontFile)+"'")
	}
	opts = append(opts, fmt.Sprintf("enable='between(t,%.3f,%.3f)'", from, to))

	return Stage{Name: "caption", Video: []string{"drawtext=" + strings.Join(opts, ":")}}
}

func watermarkStage(p effect.Watermark, w int) (Stage, error) {
	if p.Image == "" {
		return Stage{}, fmt.Errorf("watermark has no image")
	}
	scale := p.Scale
	if scale <= 0 || scale > 1 {
		scale = 0.08
	}
	opacity := clamp(p.Opacity, 0, 1)
	ww := even(int(float64(w) * scale))
	if ww < 2 {
		ww = 2
	}
	x, y := WatermarkPosition(p.Position, p.Padding)
	return Stage{
		Name: "watermark",
		Overlay: &Overlay{
			Input: p.Image,
			Loop:  true,
			Prepare: []string{
				fmt.Sprintf("scale=%d:-1", ww),
				"format=rgba",
				"colorchannelmixer=aa=" + num(opacity),
			},
			X: x,
			Y: y,
		},
	}, nil
}

// WatermarkPosition returns overlay x/y expressions for a corner.
// Unknown positions fall back to bottom left.
func WatermarkPosition(position string, padding int) (string, string) {
	pad := strconv.Itoa(padding)
	switch position {
	case effect.PositionTopLeft:
		return pad, pad
	case effect.PositionTopRight:
		return "W-w-" + pad, pad
	case effect.PositionBottomRight:
		return "W-w-" + pad, "H-h-" + pad
	default:
		return pad, "H-h-" + pad
	}
}

// EscapeText escapes a value for use inside a quoted filter argument.
func EscapeText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `'\\\''`,
		`:`, `\:`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(s)
}

func hexColor(c string) string {
	return "0x" + strings.ToUpper(strings.TrimPrefix(c, "#"))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func even(v int) int {
	return v &^ 1
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
