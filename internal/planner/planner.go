// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package planner decides, per timeline segment, whether the source can be
// stream-copied or must be re-encoded, and groups the result into the work
// units a render job executes.
package planner

import (
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// CutProbe answers whether the source can be split at t without decoding.
type CutProbe interface {
	IsSafeCut(t float64) bool
}

// ProbeFunc adapts a function to CutProbe.
type ProbeFunc func(t float64) bool

func (f ProbeFunc) IsSafeCut(t float64) bool { return f(t) }

// AllSafe treats every timestamp as a keyframe. Useful for sources encoded
// intra-only and in tests.
var AllSafe CutProbe = ProbeFunc(func(float64) bool { return true })

// Reason records why a unit is re-encoded.
type Reason string

const (
	ReasonEffects      Reason = "effects"
	ReasonUnalignedCut Reason = "unaligned_cut"
	ReasonRescale      Reason = "rescale"
)

// Unit is one independently executable piece of the plan: a single render
// segment, or a run of adjacent copy segments.
type Unit struct {
	Index    int               `json:"index"`
	Start    float64           `json:"start"`
	End      float64           `json:"end"`
	Strategy timeline.Strategy `json:"strategy"`
	Segments []int             `json:"segments"`
	Reason   Reason            `json:"reason,omitempty"`
}

// Range returns the unit's source interval.
func (u Unit) Range() media.Range {
	return media.Range{Start: u.Start, End: u.End}
}

// Duration returns End - Start.
func (u Unit) Duration() float64 { return u.End - u.Start }

// RenderPlan is the annotated timeline plus global output parameters. It is
// read-only after Plan returns and may be shared between workers.
type RenderPlan struct {
	Duration float64            `json:"duration"`
	Output   media.OutputSpec   `json:"output"`
	Segments []timeline.Segment `json:"segments"`
	Units    []Unit             `json:"units"`

	timeline *timeline.Timeline
}

// Timeline returns the timeline the plan was built from.
func (p *RenderPlan) Timeline() *timeline.Timeline { return p.timeline }

// Effects returns the instructions active on a unit, or nil when there are
// none. Copy units and escalated segments have none.
func (p *RenderPlan) Effects(u Unit) []effect.Instruction {
	if u.Strategy != timeline.StrategyRender || len(u.Segments) == 0 {
		return nil
	}
	seg := p.Segments[u.Segments[0]]
	if len(seg.Active) == 0 {
		return nil
	}
	return p.timeline.Effects(seg)
}

// Segment returns the annotated segment backing a render unit.
func (p *RenderPlan) Segment(u Unit) timeline.Segment {
	return p.Segments[u.Segments[0]]
}

// Plan annotates every segment of tl with a strategy and cut alignment and
// groups the segments into units.
//
// A segment is copied only when it has no active effects, the output needs
// no rescale, and its start is a keyframe-safe cut. A copy segment whose
// start is not safe is escalated to render, since a re-encode can start
// cold at any timestamp.
func Plan(tl *timeline.Timeline, probe CutProbe, out media.OutputSpec) *RenderPlan {
	if probe == nil {
		probe = AllSafe
	}
	if out.Width == 0 || out.Height == 0 {
		out.Width, out.Height = out.Size()
	}

	segs := tl.Segments()
	reasons := make([]Reason, len(segs))
	rescale := out.NeedsRescale()

	for i := range segs {
		s := &segs[i]
		s.CutAligned = s.Start == 0 || probe.IsSafeCut(s.Start)
		switch {
		case s.HasEffects():
			s.Strategy, reasons[i] = timeline.StrategyRender, ReasonEffects
		case rescale:
			s.Strategy, reasons[i] = timeline.StrategyRender, ReasonRescale
		case !s.CutAligned:
			s.Strategy, reasons[i] = timeline.StrategyRender, ReasonUnalignedCut
		default:
			s.Strategy = timeline.StrategyCopy
		}
	}

	units := make([]Unit, len(segs))
	for i, s := range segs {
		units[i] = Unit{
			Index:    i,
			Start:    s.Start,
			End:      s.End,
			Strategy: s.Strategy,
			Segments: []int{s.Index},
			Reason:   reasons[i],
		}
	}

	return &RenderPlan{
		Duration: tl.Duration(),
		Output:   out,
		Segments: segs,
		Units:    Coalesce(units),
		timeline: tl,
	}
}

// Coalesce merges every run of adjacent copy units into one unit and
// renumbers the result. Render units are never merged. Coalesce is
// idempotent.
func Coalesce(units []Unit) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		u.Segments = append([]int(nil), u.Segments...)
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.Strategy == timeline.StrategyCopy && u.Strategy == timeline.StrategyCopy && prev.End == u.Start {
				prev.End = u.End
				prev.Segments = append(prev.Segments, u.Segments...)
				continue
			}
		}
		out = append(out, u)
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Check verifies the plan's units cover [0, Duration) contiguously, that no
// two copy units are adjacent, and that every unit starting with a copy
// begins on an aligned cut.
func (p *RenderPlan) Check() error {
	if len(p.Units) == 0 {
		return errs.Validation("plan has no units")
	}
	if p.Units[0].Start != 0 {
		return errs.Validation("plan starts at %.6f", p.Units[0].Start)
	}
	for i, u := range p.Units {
		if i > 0 {
			prev := p.Units[i-1]
			if u.Start != prev.End {
				return errs.Validation("unit %d starts at %.6f, previous ends at %.6f", i, u.Start, prev.End)
			}
			if prev.Strategy == timeline.StrategyCopy && u.Strategy == timeline.StrategyCopy {
				return errs.Validation("units %d and %d are adjacent copies", i-1, i)
			}
		}
		if u.Strategy == timeline.StrategyCopy && !p.Segments[u.Segments[0]].CutAligned {
			return errs.Validation("copy unit %d starts on an unaligned cut %.6f", i, u.Start)
		}
	}
	if last := p.Units[len(p.Units)-1]; last.End != p.Duration {
		return errs.Validation("plan ends at %.6f, duration is %.6f", last.End, p.Duration)
	}
	return nil
}

// Counts returns the number of copy and render units.
func (p *RenderPlan) Counts() (copies, renders int) {
	for _, u := range p.Units {
		if u.Strategy == timeline.StrategyCopy {
			copies++
		} else {
			renders++
		}
	}
	return copies, renders
}
