// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package engine runs render jobs: it builds and plans the timeline, renders
// or copies every plan unit on a bounded worker pool with per-unit retry, and
// assembles the units in timeline order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZSC714725/smarttimeline/internal/assembler"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/filtergraph"
	"github.com/ZSC714725/smarttimeline/internal/logger"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// Renderer is the external render capability.
type Renderer interface {
	Render(ctx context.Context, job ffmpeg.RenderJob) (ffmpeg.Stats, error)
	Copy(ctx context.Context, job ffmpeg.CopyJob) (ffmpeg.Stats, error)
}

// Prober inspects sources. It is optional.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.SourceInfo, error)
	Keyframes(ctx context.Context, path string, tolerance float64) (*ffmpeg.KeyframeIndex, error)
}

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	Workers       int
	Retry         RetryPolicy
	CopyTimeout   TimeoutPolicy
	RenderTimeout TimeoutPolicy
	// WorkDir is the parent of the per-job unit directories.
	WorkDir     string
	KeepWorkDir bool
	Logger      logger.Logger
	// OnStateChange is called for every job state transition.
	OnStateChange func(job *Job, from, to State)
}

// Engine executes jobs against a render capability.
type Engine struct {
	renderer Renderer
	joiner   assembler.Joiner
	prober   Prober
	opts     Options
	logger   logger.Logger
}

// New creates an Engine. prober may be nil, in which case requests must
// carry their duration and every cut is treated as keyframe-safe unless
// the request supplies its own probe.
func New(renderer Renderer, joiner assembler.Joiner, prober Prober, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.CopyTimeout.Base <= 0 {
		opts.CopyTimeout = DefaultCopyTimeout()
	}
	if opts.RenderTimeout.Base <= 0 {
		opts.RenderTimeout = DefaultRenderTimeout()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Engine{
		renderer: renderer,
		joiner:   joiner,
		prober:   prober,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// NewJob creates a pending job for req.
func (e *Engine) NewJob(req Request) *Job {
	now := time.Now()
	j := &Job{
		ID:        req.ID,
		Request:   req,
		CreatedAt: now,
		state:     StatePending,
		updatedAt: now,
	}
	j.onStateChange = func(from, to State) {
		e.logger.With("job", j.ID).Info("state %s -> %s", from, to)
		if e.opts.OnStateChange != nil {
			e.opts.OnStateChange(j, from, to)
		}
	}
	return j
}

// Run prepares and executes job.
func (e *Engine) Run(ctx context.Context, job *Job) (*assembler.FinalOutput, error) {
	if err := e.Prepare(ctx, job); err != nil {
		return nil, err
	}
	return e.Execute(ctx, job)
}

// Prepare builds the timeline, plans it and compiles a filter graph for
// every render unit. It leaves the job planned, or failed.
func (e *Engine) Prepare(ctx context.Context, job *Job) error {
	if job.State() != StatePending {
		return fmt.Errorf("job %s is %s, not pending", job.ID, job.State())
	}
	req := job.Request
	log := e.logger.With("job", job.ID)

	spec := req.Spec
	duration := req.Duration
	if e.prober != nil && (duration <= 0 || spec.SourceWidth == 0) {
		info, err := e.prober.Probe(ctx, req.Source)
		if err != nil {
			if ctx.Err() != nil {
				return job.fail(errs.Cancelled(context.Cause(ctx)))
			}
			return job.fail(&errs.Error{Category: errs.CategoryValidation, Message: "probe source " + req.Source, Err: err})
		}
		if duration <= 0 {
			duration = info.Duration
		}
		spec.SourceWidth, spec.SourceHeight = info.Width, info.Height
		if spec.FPS <= 0 {
			spec.FPS = info.FPS
		}
		spec.HasAudio = info.HasAudio
	}
	if spec.Width == 0 || spec.Height == 0 {
		spec.Width, spec.Height = spec.Size()
	}

	tl, err := timeline.Build(req.Instructions, duration)
	if err != nil {
		return job.fail(err)
	}
	if err := job.setState(StateBuilt); err != nil {
		return err
	}
	log.Debug("timeline has %d segments over %.3fs", tl.Len(), duration)

	plan := planner.Plan(tl, e.cutProbe(ctx, req, spec, log), spec)
	if err := plan.Check(); err != nil {
		return job.fail(err)
	}

	graphs := make(map[int]*filtergraph.FilterGraph)
	for _, u := range plan.Units {
		if u.Strategy != timeline.StrategyRender {
			continue
		}
		g, err := filtergraph.Compile(plan.Segment(u), plan.Effects(u), plan.Output)
		if err != nil {
			return job.fail(err)
		}
		graphs[u.Index] = g
	}

	units := make([]UnitStatus, len(plan.Units))
	for i, u := range plan.Units {
		units[i] = UnitStatus{Index: u.Index, Strategy: u.Strategy, Start: u.Start, End: u.End, State: UnitPending}
	}

	job.mu.Lock()
	job.plan = plan
	job.graphs = graphs
	job.units = units
	job.mu.Unlock()

	copies, renders := plan.Counts()
	log.Info("planned %d units: %d copy, %d render", len(plan.Units), copies, renders)
	return job.setState(StatePlanned)
}

func (e *Engine) cutProbe(ctx context.Context, req Request, spec media.OutputSpec, log logger.Logger) planner.CutProbe {
	if req.Probe != nil {
		return req.Probe
	}
	if e.prober == nil {
		return planner.AllSafe
	}
	idx, err := e.prober.Keyframes(ctx, req.Source, spec.FrameDuration()/2)
	if err != nil {
		// Only the very start is known to be safe.
		log.Warn("keyframe probe failed, rendering every cut: %v", err)
		return planner.ProbeFunc(func(t float64) bool { return t == 0 })
	}
	return idx
}

// Execute renders and assembles a planned job.
func (e *Engine) Execute(ctx context.Context, job *Job) (*assembler.FinalOutput, error) {
	if err := job.setState(StateRendering); err != nil {
		return nil, err
	}
	plan := job.Plan()
	log := e.logger.With("job", job.ID)
	if ctx.Err() != nil {
		job.discardUnits()
		return nil, job.fail(errs.Cancelled(context.Cause(ctx)))
	}

	if e.opts.WorkDir != "" {
		if err := os.MkdirAll(e.opts.WorkDir, 0o755); err != nil {
			return nil, job.fail(fmt.Errorf("create work dir: %w", err))
		}
	}
	dir, err := os.MkdirTemp(e.opts.WorkDir, "job-"+job.ID+"-")
	if err != nil {
		return nil, job.fail(fmt.Errorf("create work dir: %w", err))
	}
	if !e.opts.KeepWorkDir {
		defer os.RemoveAll(dir)
	}

	buf := assembler.NewBuffer(len(plan.Units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, u := range plan.Units {
		u := u
		g.Go(func() error {
			// A sibling already failed.
			if gctx.Err() != nil {
				return errs.Cancelled(context.Cause(gctx))
			}
			ru, err := e.runUnit(gctx, job, plan, dir, u)
			if err != nil {
				return err
			}
			return buf.Put(ru)
		})
	}

	if err := g.Wait(); err != nil {
		for _, p := range buf.Discard() {
			os.Remove(p)
		}
		job.discardUnits()
		if ctx.Err() != nil {
			err = errs.Cancelled(context.Cause(ctx))
		}
		log.Error("rendering failed: %v", err)
		return nil, job.fail(err)
	}

	if err := job.setState(StateAssembling); err != nil {
		return nil, err
	}
	units, err := buf.Drain()
	if err != nil {
		return nil, job.fail(err)
	}
	out, err := assembler.Assemble(ctx, units, plan.Duration, assemblyTolerance(plan.Output), e.joiner, job.Request.Output)
	if err != nil {
		os.Remove(job.Request.Output)
		log.Error("assembly failed: %v", err)
		return nil, job.fail(err)
	}

	job.mu.Lock()
	job.output = out
	job.mu.Unlock()
	if err := job.setState(StateDone); err != nil {
		return nil, err
	}
	log.Info("wrote %s (%.3fs, %d units)", out.Path, out.Duration, out.Units)
	return out, nil
}

// runUnit drives one unit through its bounded-retry machine.
func (e *Engine) runUnit(ctx context.Context, job *Job, plan *planner.RenderPlan, dir string, u planner.Unit) (assembler.RenderedUnit, error) {
	log := e.logger.With("job", job.ID).With("unit", u.Index)
	path := filepath.Join(dir, fmt.Sprintf("seg_%04d.mp4", u.Index))
	graph, _ := job.Graph(u.Index)

	working := UnitCopying
	timeout := e.opts.CopyTimeout.For(u.Duration())
	if u.Strategy == timeline.StrategyRender {
		working = UnitCompiling
		timeout = e.opts.RenderTimeout.For(u.Duration())
	}

	attempts := e.opts.Retry.attempts()
	var (
		lastErr error
		tried   int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		tried = attempt
		if attempt > 1 {
			delay := e.opts.Retry.Delay(attempt - 1)
			job.setUnit(u.Index, UnitBackoff, nil)
			log.Warn("attempt %d failed, retrying in %s: %v", attempt-1, delay, lastErr)
			if err := sleep(ctx, delay); err != nil {
				job.setUnit(u.Index, UnitDiscarded, nil)
				return assembler.RenderedUnit{}, errs.Cancelled(context.Cause(ctx))
			}
		}
		n := attempt
		job.setUnit(u.Index, working, func(s *UnitStatus) { s.Attempts = n })

		stats, err := e.attempt(ctx, job.Request.Source, plan.Output, u, graph, path, timeout)
		if err == nil {
			job.setUnit(u.Index, UnitDone, func(s *UnitStatus) { s.Stats = stats; s.LastError = "" })
			measured, speed := measure(u, graph, stats)
			if stats.Progress.Time <= 0 {
				log.Debug("no progress reported, assuming planned length %.3fs", measured)
			}
			log.Debug("%s %s done in %s, %.3fs written", u.Strategy, u.Range(), stats.Duration, measured)
			return assembler.RenderedUnit{
				Index:          u.Index,
				Segments:       u.Segments,
				Start:          u.Start,
				Duration:       measured * speed,
				OutputDuration: measured,
				Path:           path,
				Strategy:       u.Strategy,
				Attempts:       attempt,
				Stats:          stats,
			}, nil
		}

		os.Remove(path)
		if ctx.Err() != nil {
			job.setUnit(u.Index, UnitDiscarded, nil)
			return assembler.RenderedUnit{}, errs.Cancelled(context.Cause(ctx))
		}
		lastErr = errs.Render(u.Segments[0], u.Range(), err)
		job.setUnit(u.Index, working, func(s *UnitStatus) { s.LastError = lastErr.Error() })
		if !retryable(err) {
			break
		}
	}

	job.setUnit(u.Index, UnitFailed, nil)
	ranges := make([]media.Range, len(u.Segments))
	for i, s := range u.Segments {
		ranges[i] = plan.Segments[s].Range()
	}
	final := errs.Assembly(u.Segments, ranges, "unit %d failed after %d attempts", u.Index, tried)
	final.Err = lastErr
	return assembler.RenderedUnit{}, final
}

// measure returns the length of the written unit and the speed it was
// retimed by. ffmpeg's final time= is the written length; runs that never
// reported one are taken at their planned length.
func measure(u planner.Unit, graph *filtergraph.FilterGraph, stats ffmpeg.Stats) (float64, float64) {
	planned, speed := u.Duration(), 1.0
	if graph != nil {
		planned, speed = graph.OutputDuration, graph.Speed
	}
	if stats.Progress.Time > 0 {
		return stats.Progress.Time, speed
	}
	return planned, speed
}

// assemblyTolerance allows two frames: ffmpeg's time= is the last packet
// timestamp, which trails the true end by up to a frame.
func assemblyTolerance(spec media.OutputSpec) float64 {
	return 2 * spec.FrameDuration()
}

func (e *Engine) attempt(ctx context.Context, source string, spec media.OutputSpec, u planner.Unit, graph *filtergraph.FilterGraph, path string, timeout time.Duration) (ffmpeg.Stats, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		stats ffmpeg.Stats
		err   error
	)
	if u.Strategy == timeline.StrategyRender {
		stats, err = e.renderer.Render(actx, ffmpeg.RenderJob{
			Source: source,
			Output: path,
			Range:  u.Range(),
			Graph:  graph,
			Spec:   spec,
		})
	} else {
		stats, err = e.renderer.Copy(actx, ffmpeg.CopyJob{
			Source: source,
			Output: path,
			Range:  u.Range(),
		})
	}
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return stats, err
}

// retryable reports whether a capability error may succeed on a retry.
// Rejected addresses never will.
func retryable(err error) bool {
	if errors.Is(err, ffmpeg.ErrInvalidInput) || errors.Is(err, ffmpeg.ErrInvalidOutput) {
		return false
	}
	if c := errs.CategoryOf(err); c != "" && c != errs.CategoryRender {
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
