// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package engine

import "fmt"

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateBuilt      State = "built"
	StatePlanned    State = "planned"
	StateRendering  State = "rendering"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateDone || s == StateFailed
}

// UnitState is the state of one unit's bounded-retry machine.
type UnitState string

const (
	UnitPending   UnitState = "pending"
	UnitCompiling UnitState = "compiling"
	UnitCopying   UnitState = "copying"
	UnitBackoff   UnitState = "backoff"
	UnitDone      UnitState = "done"
	UnitFailed    UnitState = "failed"
	UnitDiscarded UnitState = "discarded"
)

var jobTransitions = map[State][]State{
	StatePending:    {StateBuilt, StateFailed},
	StateBuilt:      {StatePlanned, StateFailed},
	StatePlanned:    {StateRendering, StateFailed},
	StateRendering:  {StateAssembling, StateFailed},
	StateAssembling: {StateDone, StateFailed},
}

var unitTransitions = map[UnitState][]UnitState{
	UnitPending:   {UnitCompiling, UnitCopying, UnitDiscarded},
	UnitCompiling: {UnitDone, UnitBackoff, UnitFailed, UnitDiscarded},
	UnitCopying:   {UnitDone, UnitBackoff, UnitFailed, UnitDiscarded},
	UnitBackoff:   {UnitCompiling, UnitCopying, UnitFailed, UnitDiscarded},
	UnitDone:      {UnitDiscarded},
}

func canMove[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError[S ~string](from, to S) error {
	return fmt.Errorf("can't change from %s to %s", from, to)
}
