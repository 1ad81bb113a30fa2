// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/job"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Handler holds dependencies
type Handler struct {
	store  job.Store
	skills SkillsSource
}

// NewHandler creates API handler. skills may be nil.
func NewHandler(store job.Store, skills SkillsSource) *Handler {
	return &Handler{store: store, skills: skills}
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/skills", h.Skills)
	g.POST("/skills/reload", h.ReloadSkills)

	g.POST("/plan", h.DryRun)

	g.GET("/jobs", h.ListJobs)
	g.POST("/jobs", h.AddJob)
	g.GET("/jobs/:id", h.GetJob)
	g.DELETE("/jobs/:id", h.DeleteJob)
	g.GET("/jobs/:id/plan", h.GetPlan)
	g.PUT("/jobs/:id/command", h.Command)
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// jobError maps store and engine errors onto a status code.
func jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	case errors.Is(err, job.ErrJobExists):
		errResp(c, http.StatusBadRequest, "Job exists", err.Error())
		return
	case errors.Is(err, job.ErrInvalidInputAddress), errors.Is(err, job.ErrInvalidOutputAddress):
		errResp(c, http.StatusBadRequest, "Invalid address", err.Error())
		return
	case errors.Is(err, job.ErrInvalidInput):
		errResp(c, http.StatusBadRequest, "Invalid input", err.Error())
		return
	case errors.Is(err, job.ErrJobFinished):
		errResp(c, http.StatusConflict, "Job finished", err.Error())
		return
	}

	var e *errs.Error
	if !errors.As(err, &e) {
		errResp(c, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}
	code, msg := http.StatusInternalServerError, "Job failed"
	switch e.Category {
	case errs.CategoryValidation:
		code, msg = http.StatusBadRequest, "Invalid edit map"
	case errs.CategoryComposition:
		code, msg = http.StatusUnprocessableEntity, "Unsatisfiable effects"
	}
	c.JSON(code, ErrorResponse{
		Code:     code,
		Message:  msg,
		Detail:   err.Error(),
		Category: e.Category,
		Segments: e.Segments,
		Ranges:   e.Ranges,
	})
}

func requestToInput(req *JobRequest) *job.Input {
	return &job.Input{
		ID:         req.ID,
		Reference:  req.Reference,
		Source:     req.Source,
		Output:     req.Output,
		Duration:   req.Duration,
		Resolution: media.Resolution(strings.ToLower(req.Resolution)),
		EditMap:    req.EditMap,
	}
}

// AddJob POST /api/v1/jobs
func (h *Handler) AddJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	j, err := h.store.Submit(c.Request.Context(), requestToInput(&req))
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToAPI(j))
}

// DryRun POST /api/v1/plan
func (h *Handler) DryRun(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	j, err := h.store.Plan(c.Request.Context(), requestToInput(&req))
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, planToAPI(j))
}

// ListJobs GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	reference := c.DefaultQuery("reference", "")
	idStr := c.DefaultQuery("id", "")

	var ids []string
	if idStr != "" {
		ids = strings.FieldsFunc(idStr, func(r rune) bool { return r == ',' })
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	}

	jobs := h.store.List(ids, reference)
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobToAPI(j))
	}
	c.JSON(http.StatusOK, out)
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.store.Get(c.Param("id"))
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToAPI(j))
}

// GetPlan GET /api/v1/jobs/:id/plan
func (h *Handler) GetPlan(c *gin.Context) {
	j, err := h.store.Get(c.Param("id"))
	if err != nil {
		jobError(c, err)
		return
	}
	if j.Plan() == nil {
		if err := j.Err(); err != nil {
			jobError(c, err)
			return
		}
		errResp(c, http.StatusConflict, "Job not planned yet", string(j.State()))
		return
	}
	c.JSON(http.StatusOK, planToAPI(j.Job))
}

// DeleteJob DELETE /api/v1/jobs/:id
func (h *Handler) DeleteJob(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, "OK")
}

// Command PUT /api/v1/jobs/:id/command
func (h *Handler) Command(c *gin.Context) {
	id := c.Param("id")

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	switch req.Command {
	case "cancel":
		if err := h.store.Cancel(id); err != nil {
			jobError(c, err)
			return
		}
	default:
		errResp(c, http.StatusBadRequest, "Unknown command", "Known: cancel")
		return
	}

	c.JSON(http.StatusOK, "OK")
}

func jobToAPI(j *job.Job) Job {
	s := j.Snapshot()
	return Job{
		ID:        s.ID,
		Reference: j.Reference,
		Order:     j.Order(),
		State:     s.State,
		Error:     s.Error,
		Category:  s.Category,
		Total:     s.Total,
		Done:      s.Done,
		Units:     s.Units,
		Output:    s.Output,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func planToAPI(j *engine.Job) *Plan {
	p := j.Plan()
	if p == nil {
		return nil
	}
	out := &Plan{
		ID:           j.ID,
		Duration:     p.Duration,
		Output:       p.Output,
		Instructions: p.Timeline().Instructions(),
		Segments:     p.Segments,
		Units:        make([]PlanUnit, len(p.Units)),
	}
	out.Copies, out.Renders = p.Counts()
	for i, u := range p.Units {
		pu := PlanUnit{Unit: u}
		if g, ok := j.Graph(u.Index); ok {
			pu.Graph = &Graph{
				Stages:         g.Stages,
				FilterComplex:  g.Complex(p.Output.HasAudio),
				OutputDuration: g.OutputDuration,
			}
		}
		out.Units[i] = pu
	}
	return out
}
