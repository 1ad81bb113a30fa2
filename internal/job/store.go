// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package job keeps the render jobs submitted to one engine and runs them
// in the background.
package job

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lithammer/shortuuid/v4"

	"github.com/ZSC714725/smarttimeline/internal/editmap"
	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/logger"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Validator checks source and output addresses.
type Validator interface {
	ValidateInput(address string) bool
	ValidateOutput(address string) bool
}

// Job is a submitted render job.
type Job struct {
	*engine.Job
	Reference string

	order  atomic.Value
	cancel context.CancelFunc
	done   chan struct{}
}

// Order is the last command given to the job: start or cancel.
func (j *Job) Order() string {
	o, _ := j.order.Load().(string)
	return o
}

// Done is closed when the job has finished, successfully or not.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes and returns its error.
func (j *Job) Wait() error {
	<-j.done
	return j.Err()
}

// Store manages jobs in memory
type Store interface {
	Submit(ctx context.Context, input *Input) (*Job, error)
	Plan(ctx context.Context, input *Input) (*engine.Job, error)
	Get(id string) (*Job, error)
	List(ids []string, reference string) []*Job
	Cancel(id string) error
	Delete(id string) error
}

// Config for a Store
type Config struct {
	Engine    *engine.Engine
	Prober    engine.Prober
	Validator Validator
	// Spec is the output template; a submission only picks the resolution.
	Spec      media.OutputSpec
	Watermark *editmap.Watermark
	Logger    logger.Logger
}

type store struct {
	engine    *engine.Engine
	prober    engine.Prober
	validator Validator
	spec      media.OutputSpec
	watermark *editmap.Watermark
	logger    logger.Logger

	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewStore creates a job store
func NewStore(config Config) Store {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	return &store{
		engine:    config.Engine,
		prober:    config.Prober,
		validator: config.Validator,
		spec:      config.Spec,
		watermark: config.Watermark,
		logger:    config.Logger,
		jobs:      make(map[string]*Job),
	}
}

// request validates input and turns it into an engine request. The source
// is probed when its duration is not given.
func (s *store) request(ctx context.Context, input *Input) (engine.Request, error) {
	if len(input.Source) == 0 || len(input.Output) == 0 {
		return engine.Request{}, ErrInvalidInput
	}
	if s.validator != nil {
		if !s.validator.ValidateInput(input.Source) {
			return engine.Request{}, ErrInvalidInputAddress
		}
		if !s.validator.ValidateOutput(input.Output) {
			return engine.Request{}, ErrInvalidOutputAddress
		}
	}

	spec := s.spec
	spec.Resolution = media.ParseResolution(string(input.Resolution))
	// Resolved by the engine once the source geometry is known.
	spec.Width, spec.Height = 0, 0

	duration := input.Duration
	if duration <= 0 && s.prober != nil {
		info, err := s.prober.Probe(ctx, input.Source)
		if err != nil {
			return engine.Request{}, &errs.Error{Category: errs.CategoryValidation, Message: "probe source " + input.Source, Err: err}
		}
		duration = info.Duration
		spec.SourceWidth, spec.SourceHeight = info.Width, info.Height
		spec.FPS = info.FPS
		spec.HasAudio = info.HasAudio
	}

	instructions, err := input.Instructions(duration, s.watermark)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{
		ID:           input.ID,
		Source:       input.Source,
		Output:       input.Output,
		Instructions: instructions,
		Duration:     duration,
		Spec:         spec,
	}, nil
}

func (s *store) Submit(ctx context.Context, input *Input) (*Job, error) {
	if len(input.ID) == 0 {
		input.ID = shortuuid.New()
	}

	s.mu.RLock()
	_, exists := s.jobs[input.ID]
	s.mu.RUnlock()
	if exists {
		return nil, ErrJobExists
	}

	req, err := s.request(ctx, input)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[input.ID]; exists {
		return nil, ErrJobExists
	}

	runCtx, cancel := context.WithCancel(context.Background())
	j := &Job{
		Job:       s.engine.NewJob(req),
		Reference: input.Reference,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	j.order.Store("start")
	s.jobs[j.ID] = j

	go func() {
		defer close(j.done)
		defer cancel()
		if _, err := s.engine.Run(runCtx, j.Job); err != nil {
			s.logger.With("job", j.ID).Warn("job failed: %v", err)
		}
	}()

	return j, nil
}

func (s *store) Plan(ctx context.Context, input *Input) (*engine.Job, error) {
	if len(input.ID) == 0 {
		input.ID = shortuuid.New()
	}
	req, err := s.request(ctx, input)
	if err != nil {
		return nil, err
	}
	j := s.engine.NewJob(req)
	if err := s.engine.Prepare(ctx, j); err != nil {
		return j, err
	}
	return j, nil
}

func (s *store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *store) List(ids []string, reference string) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, j := range s.jobs {
		if len(reference) > 0 && j.Reference != reference {
			continue
		}
		if len(ids) > 0 {
			found := false
			for _, id := range ids {
				if j.ID == id {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (s *store) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if j.State().Finished() {
		s.mu.Unlock()
		return ErrJobFinished
	}
	j.order.Store("cancel")
	s.mu.Unlock()

	j.cancel()
	<-j.done
	return nil
}

func (s *store) Delete(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	j.cancel()
	<-j.done
	return nil
}
