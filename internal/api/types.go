// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package api

import (
	"encoding/json"

	"github.com/ZSC714725/smarttimeline/internal/assembler"
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/filtergraph"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// JobRequest for POST /jobs and POST /plan
type JobRequest struct {
	ID         string          `json:"id"`
	Reference  string          `json:"reference"`
	Source     string          `json:"source" binding:"required"`
	Output     string          `json:"output" binding:"required"`
	Duration   float64         `json:"duration"`
	Resolution string          `json:"resolution"`
	EditMap    json.RawMessage `json:"editMap"`
}

// Job represents a render job in API responses
type Job struct {
	ID        string                 `json:"id"`
	Reference string                 `json:"reference"`
	Order     string                 `json:"order"`
	State     engine.State           `json:"state"`
	Error     string                 `json:"error,omitempty"`
	Category  errs.Category          `json:"category,omitempty"`
	Total     int                    `json:"units_total"`
	Done      int                    `json:"units_done"`
	Units     []engine.UnitStatus    `json:"units"`
	Output    *assembler.FinalOutput `json:"output,omitempty"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

// Plan is a render plan with the compiled graph of every render unit
type Plan struct {
	ID           string               `json:"id"`
	Duration     float64              `json:"duration"`
	Output       media.OutputSpec     `json:"output"`
	Instructions []effect.Instruction `json:"instructions"`
	Segments     []timeline.Segment   `json:"segments"`
	Units        []PlanUnit           `json:"units"`
	Copies       int                  `json:"copies"`
	Renders      int                  `json:"renders"`
}

// PlanUnit is one unit of a plan
type PlanUnit struct {
	planner.Unit
	Graph *Graph `json:"graph,omitempty"`
}

// Graph is a compiled filter graph
type Graph struct {
	Stages         []filtergraph.Stage `json:"stages"`
	FilterComplex  string              `json:"filter_complex"`
	OutputDuration float64             `json:"output_duration"`
}

// CommandRequest for PUT /jobs/:id/command
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code     int           `json:"code"`
	Message  string        `json:"message"`
	Detail   string        `json:"detail,omitempty"`
	Category errs.Category `json:"category,omitempty"`
	Segments []int         `json:"segments,omitempty"`
	Ranges   []media.Range `json:"ranges,omitempty"`
}
