// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package assembler checks rendered units for contiguity and joins them, in
// plan order, into the final output.
package assembler

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// RenderedUnit is one produced media file covering [Start, Start+Duration)
// of the source timeline.
type RenderedUnit struct {
	Index          int               `json:"index"`
	Segments       []int             `json:"segments"`
	Start          float64           `json:"start"`
	Duration       float64           `json:"duration"`
	OutputDuration float64           `json:"output_duration"`
	Path           string            `json:"path"`
	Strategy       timeline.Strategy `json:"strategy"`
	Attempts       int               `json:"attempts"`
	Stats          ffmpeg.Stats      `json:"stats"`
}

// Range returns the source range the unit covers.
func (u RenderedUnit) Range() media.Range {
	return media.Range{Start: u.Start, End: u.Start + u.Duration}
}

// FinalOutput is the assembled artifact.
type FinalOutput struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Units    int     `json:"units"`
}

// Joiner concatenates encoded files without re-encoding them.
type Joiner interface {
	Join(ctx context.Context, paths []string, output string) error
}

// Buffer holds rendered units by index until assembly. Each slot is
// written once; Drain reads them back in index order.
type Buffer struct {
	mu     sync.Mutex
	slots  []*RenderedUnit
	filled int
}

// NewBuffer returns a buffer with n slots.
func NewBuffer(n int) *Buffer {
	return &Buffer{slots: make([]*RenderedUnit, n)}
}

// Put stores u in slot u.Index.
func (b *Buffer) Put(u RenderedUnit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u.Index < 0 || u.Index >= len(b.slots) {
		return fmt.Errorf("unit index %d out of range [0,%d)", u.Index, len(b.slots))
	}
	if b.slots[u.Index] != nil {
		return fmt.Errorf("unit %d already buffered", u.Index)
	}
	b.slots[u.Index] = &u
	b.filled++
	return nil
}

// Filled returns the number of buffered units.
func (b *Buffer) Filled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// Len returns the number of slots.
func (b *Buffer) Len() int {
	return len(b.slots)
}

// Drain returns all units in index order. It fails with an assembly error
// naming the empty slots when the buffer is incomplete.
func (b *Buffer) Drain() ([]RenderedUnit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var missing []int
	out := make([]RenderedUnit, 0, len(b.slots))
	for i, u := range b.slots {
		if u == nil {
			missing = append(missing, i)
			continue
		}
		out = append(out, *u)
	}
	if len(missing) > 0 {
		return nil, errs.Assembly(missing, nil, "units %v were never rendered", missing)
	}
	return out, nil
}

// Discard empties the buffer and returns the paths it held.
func (b *Buffer) Discard() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var paths []string
	for i, u := range b.slots {
		if u != nil {
			paths = append(paths, u.Path)
			b.slots[i] = nil
		}
	}
	b.filled = 0
	return paths
}

// Check verifies that units are in index order, contiguous within
// tolerance, start at 0 and end at duration.
func Check(units []RenderedUnit, duration, tolerance float64) error {
	if len(units) == 0 {
		return errs.Assembly(nil, nil, "no rendered units")
	}

	expected := 0.0
	for i, u := range units {
		if u.Index != i {
			return errs.Assembly(u.Segments, []media.Range{u.Range()}, "unit %d found at position %d", u.Index, i)
		}
		if !(u.Duration > 0) {
			return errs.Assembly(u.Segments, []media.Range{u.Range()}, "unit %d has no duration", u.Index)
		}
		if math.Abs(u.Start-expected) > tolerance {
			segs := u.Segments
			ranges := []media.Range{u.Range()}
			if i > 0 {
				prev := units[i-1]
				segs = append(append([]int(nil), prev.Segments...), u.Segments...)
				ranges = []media.Range{prev.Range(), u.Range()}
			}
			return errs.Assembly(segs, ranges, "gap of %.6fs before unit %d", u.Start-expected, u.Index)
		}
		expected = u.Start + u.Duration
	}

	if math.Abs(expected-duration) > tolerance {
		last := units[len(units)-1]
		return errs.Assembly(last.Segments, []media.Range{last.Range()},
			"units end at %.6f, timeline duration is %.6f", expected, duration)
	}
	return nil
}

// Assemble checks units and joins them into output.
func Assemble(ctx context.Context, units []RenderedUnit, duration, tolerance float64, j Joiner, output string) (*FinalOutput, error) {
	if err := Check(units, duration, tolerance); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled(err)
	}

	paths := make([]string, len(units))
	total := 0.0
	for i, u := range units {
		paths[i] = u.Path
		total += u.OutputDuration
	}

	if err := j.Join(ctx, paths, output); err != nil {
		if ctx.Err() != nil {
			return nil, errs.Cancelled(ctx.Err())
		}
		e := errs.Assembly(nil, nil, "join %d units", len(units))
		e.Err = err
		return nil, e
	}
	return &FinalOutput{Path: output, Duration: total, Units: len(units)}, nil
}
