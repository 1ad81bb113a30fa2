// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package timeline partitions a media duration into contiguous segments,
// each carrying the set of effect instructions active over it.
package timeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Strategy is how a segment reaches the output.
type Strategy string

const (
	// StrategyUnplanned is the zero value left by the builder.
	StrategyUnplanned Strategy = ""
	StrategyCopy      Strategy = "copy"
	StrategyRender    Strategy = "render"
)

// Segment is one contiguous interval of the timeline with a fixed set of
// active instructions. Active holds indices into Timeline.Instructions.
type Segment struct {
	Index      int      `json:"index"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Active     []int    `json:"active"`
	Strategy   Strategy `json:"strategy"`
	CutAligned bool     `json:"cut_aligned"`
}

// Range returns the segment's interval.
func (s Segment) Range() media.Range {
	return media.Range{Start: s.Start, End: s.End}
}

// Duration returns End - Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// HasEffects reports whether any instruction is active over the segment.
func (s Segment) HasEffects() bool {
	return len(s.Active) > 0
}

func (s Segment) String() string {
	return fmt.Sprintf("#%d%s", s.Index, s.Range())
}

// Timeline is immutable once built. It owns its segments and holds the
// instructions they reference.
type Timeline struct {
	duration     float64
	instructions []effect.Instruction
	segments     []Segment
}

// Duration is the source media duration covered by the timeline.
func (t *Timeline) Duration() float64 { return t.duration }

// Len returns the number of segments.
func (t *Timeline) Len() int { return len(t.segments) }

// Segment returns a copy of segment i.
func (t *Timeline) Segment(i int) Segment {
	s := t.segments[i]
	s.Active = append([]int(nil), s.Active...)
	return s
}

// Segments returns a copy of all segments in timeline order.
func (t *Timeline) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	for i := range t.segments {
		out[i] = t.Segment(i)
	}
	return out
}

// Instructions returns the instructions the timeline was built from, in
// their original order.
func (t *Timeline) Instructions() []effect.Instruction {
	return append([]effect.Instruction(nil), t.instructions...)
}

// Effects resolves the active instruction indices of seg.
func (t *Timeline) Effects(seg Segment) []effect.Instruction {
	out := make([]effect.Instruction, 0, len(seg.Active))
	for _, i := range seg.Active {
		out = append(out, t.instructions[i])
	}
	return out
}

// Build validates the instructions against duration and partitions
// [0, duration) at every instruction boundary.
func Build(instructions []effect.Instruction, duration float64) (*Timeline, error) {
	if err := validate(instructions, duration); err != nil {
		return nil, err
	}

	points := breakpoints(instructions, duration)
	segments := make([]Segment, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		r := media.Range{Start: points[i], End: points[i+1]}
		seg := Segment{Index: len(segments), Start: r.Start, End: r.End}
		for j, in := range instructions {
			if covers(in.Range(), r) {
				seg.Active = append(seg.Active, j)
			}
		}
		segments = append(segments, seg)
	}

	t := &Timeline{
		duration:     duration,
		instructions: append([]effect.Instruction(nil), instructions...),
		segments:     segments,
	}
	if err := CheckCoverage(t.segments, duration); err != nil {
		return nil, err
	}
	return t, nil
}

func validate(instructions []effect.Instruction, duration float64) error {
	if !(duration > 0) || math.IsInf(duration, 0) {
		return errs.Validation("duration must be positive, got %v", duration)
	}

	for _, in := range instructions {
		if err := in.Check(); err != nil {
			return err
		}
		if math.IsNaN(in.Start) || math.IsNaN(in.End) {
			return errs.Validation("instruction %s %q: NaN bound", in.Kind, in.ID)
		}
		if in.End <= in.Start {
			return errs.Validation("instruction %s %q: end %.3f <= start %.3f", in.Kind, in.ID, in.End, in.Start)
		}
		if in.Start < 0 {
			return errs.Validation("instruction %s %q: start %.3f < 0", in.Kind, in.ID, in.Start)
		}
		if in.End > duration {
			return errs.Validation("instruction %s %q: end %.3f beyond duration %.3f", in.Kind, in.ID, in.End, duration)
		}
	}

	// Same-kind overlap: sort a copy by (kind, start) and compare neighbours.
	sorted := append([]effect.Instruction(nil), instructions...)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Kind != sorted[b].Kind {
			return sorted[a].Kind < sorted[b].Kind
		}
		return sorted[a].Start < sorted[b].Start
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Kind != cur.Kind {
			continue
		}
		if cur.Start < prev.End-media.Epsilon {
			err := errs.Validation("conflicting %s instructions %q %s and %q %s overlap",
				cur.Kind, prev.ID, prev.Range(), cur.ID, cur.Range())
			err.Ranges = []media.Range{prev.Range(), cur.Range()}
			return err
		}
	}
	return nil
}

// breakpoints returns the sorted, de-duplicated set of cut points. Points
// closer than media.Epsilon collapse onto the earlier one; 0 and duration
// are always kept exactly.
func breakpoints(instructions []effect.Instruction, duration float64) []float64 {
	raw := make([]float64, 0, 2*len(instructions)+2)
	raw = append(raw, 0, duration)
	for _, in := range instructions {
		raw = append(raw, in.Start, in.End)
	}
	sort.Float64s(raw)

	points := []float64{0}
	for _, p := range raw {
		if p-points[len(points)-1] > media.Epsilon {
			points = append(points, p)
		}
	}
	if last := len(points) - 1; points[last] != duration {
		if duration-points[last] <= media.Epsilon && last > 0 {
			points[last] = duration
		} else {
			points = append(points, duration)
		}
	}
	return points
}

func covers(outer, inner media.Range) bool {
	return outer.Start <= inner.Start+media.Epsilon && outer.End >= inner.End-media.Epsilon
}

// CheckCoverage verifies that segments are ordered, contiguous, non-empty
// and span exactly [0, duration).
func CheckCoverage(segments []Segment, duration float64) error {
	if len(segments) == 0 {
		return errs.Validation("timeline has no segments")
	}
	if segments[0].Start != 0 {
		return errs.Validation("first segment starts at %.6f, not 0", segments[0].Start)
	}
	for i, s := range segments {
		if s.End <= s.Start {
			return errs.Validation("segment %d is empty %s", i, s.Range())
		}
		if i > 0 && s.Start != segments[i-1].End {
			return errs.Validation("segment %d starts at %.6f, previous ends at %.6f", i, s.Start, segments[i-1].End)
		}
	}
	if end := segments[len(segments)-1].End; end != duration {
		return errs.Validation("last segment ends at %.6f, duration is %.6f", end, duration)
	}
	return nil
}
