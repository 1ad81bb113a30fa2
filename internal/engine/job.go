// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package engine

import (
	"sync"
	"time"

	"github.com/ZSC714725/smarttimeline/internal/assembler"
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/filtergraph"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// Request is everything a job needs to produce one output file.
type Request struct {
	ID           string
	Source       string
	Output       string
	Instructions []effect.Instruction
	// Duration of the source in seconds. Zero means probe the source.
	Duration float64
	Spec     media.OutputSpec
	// Probe overrides keyframe detection when set.
	Probe planner.CutProbe
}

// UnitStatus is the progress of one plan unit.
type UnitStatus struct {
	Index     int               `json:"index"`
	Strategy  timeline.Strategy `json:"strategy"`
	Start     float64           `json:"start"`
	End       float64           `json:"end"`
	State     UnitState         `json:"state"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	Stats     ffmpeg.Stats      `json:"stats"`
}

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID        string                 `json:"id"`
	State     State                  `json:"state"`
	Error     string                 `json:"error,omitempty"`
	Category  errs.Category          `json:"category,omitempty"`
	Total     int                    `json:"total"`
	Done      int                    `json:"done"`
	Units     []UnitStatus           `json:"units"`
	Output    *assembler.FinalOutput `json:"output,omitempty"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

// Job is one render job. Its plan is immutable once prepared; only the
// state and unit statuses change while it executes.
type Job struct {
	ID        string
	Request   Request
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	err       error
	plan      *planner.RenderPlan
	graphs    map[int]*filtergraph.FilterGraph
	units     []UnitStatus
	output    *assembler.FinalOutput
	updatedAt time.Time

	onStateChange func(from, to State)
}

// State returns the job state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Err returns the error the job failed with, if any.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Plan returns the render plan, nil before the job is planned.
func (j *Job) Plan() *planner.RenderPlan {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.plan
}

// Graph returns the compiled filter graph of a render unit.
func (j *Job) Graph(unit int) (*filtergraph.FilterGraph, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	g, ok := j.graphs[unit]
	return g, ok
}

// Output returns the assembled output once the job is done.
func (j *Job) Output() *assembler.FinalOutput {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// Snapshot copies the job's current progress.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:        j.ID,
		State:     j.state,
		Total:     len(j.units),
		Units:     append([]UnitStatus(nil), j.units...),
		Output:    j.output,
		CreatedAt: j.CreatedAt.Unix(),
		UpdatedAt: j.updatedAt.Unix(),
	}
	if j.err != nil {
		s.Error = j.err.Error()
		s.Category = errs.CategoryOf(j.err)
	}
	for _, u := range j.units {
		if u.State == UnitDone {
			s.Done++
		}
	}
	return s
}

func (j *Job) setState(to State) error {
	j.mu.Lock()
	from := j.state
	if !canMove(jobTransitions, from, to) {
		j.mu.Unlock()
		return transitionError(from, to)
	}
	j.state = to
	j.updatedAt = time.Now()
	cb := j.onStateChange
	j.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	return nil
}

// fail moves the job to failed and records err. The first error wins.
func (j *Job) fail(err error) error {
	j.mu.Lock()
	if j.err == nil {
		j.err = err
	}
	from := j.state
	moved := from != StateFailed && canMove(jobTransitions, from, StateFailed)
	if moved {
		j.state = StateFailed
		j.updatedAt = time.Now()
	}
	cb := j.onStateChange
	j.mu.Unlock()

	if moved && cb != nil {
		cb(from, StateFailed)
	}
	return err
}

func (j *Job) setUnit(index int, to UnitState, update func(u *UnitStatus)) {
	j.mu.Lock()
	defer j.mu.Unlock()

	u := &j.units[index]
	if u.State != to && !canMove(unitTransitions, u.State, to) {
		return
	}
	u.State = to
	if update != nil {
		update(u)
	}
	j.updatedAt = time.Now()
}

func (j *Job) discardUnits() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.units {
		if canMove(unitTransitions, j.units[i].State, UnitDiscarded) {
			j.units[i].State = UnitDiscarded
		}
	}
	j.updatedAt = time.Now()
}
