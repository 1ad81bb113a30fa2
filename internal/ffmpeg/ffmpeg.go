// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ZSC714725/smarttimeline/internal/ffmpeg/parse"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg/skills"
	"github.com/ZSC714725/smarttimeline/internal/logger"
	"github.com/ZSC714725/smarttimeline/internal/process"
)

// Config for FFmpeg
type Config struct {
	Binary          string
	ProbeBinary     string
	MaxLogLines     int
	StaleTimeout    time.Duration
	SampleInterval  time.Duration
	ValidatorInput  Validator
	ValidatorOutput Validator
	Logger          logger.Logger
	// SkipSkills disables capability detection at startup.
	SkipSkills bool
}

// FFmpeg runs ffmpeg and ffprobe for one engine instance.
type FFmpeg struct {
	binary         string
	probeBinary    string
	validatorIn    Validator
	validatorOut   Validator
	logLines       int
	staleTimeout   time.Duration
	sampleInterval time.Duration
	logger         logger.Logger

	skills     skills.Skills
	skillsLock sync.RWMutex
}

// Stats describes one finished ffmpeg run.
type Stats struct {
	Duration   time.Duration  `json:"duration"`
	PeakCPU    float64        `json:"peak_cpu"`
	PeakMemory uint64         `json:"peak_memory"`
	Progress   parse.Progress `json:"progress"`
}

// RunError is a failed ffmpeg run with the tail of its log.
type RunError struct {
	Op   string
	Tail []string
	Err  error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s: %v", e.Op, e.Err)
	if len(e.Tail) > 0 {
		msg += "; last output: " + strings.Join(e.Tail, " | ")
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// New creates FFmpeg
func New(config Config) (*FFmpeg, error) {
	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg binary: %w", err)
	}
	probe := config.ProbeBinary
	if probe == "" {
		probe = "ffprobe"
	}
	probeBinary, err := exec.LookPath(probe)
	if err != nil {
		return nil, fmt.Errorf("invalid ffprobe binary: %w", err)
	}

	f := &FFmpeg{
		binary:         binary,
		probeBinary:    probeBinary,
		logLines:       config.MaxLogLines,
		staleTimeout:   config.StaleTimeout,
		sampleInterval: config.SampleInterval,
		logger:         config.Logger,
	}

	if f.logLines <= 0 {
		f.logLines = 100
	}
	if f.logger == nil {
		f.logger = logger.Nop()
	}

	if config.ValidatorInput != nil {
		f.validatorIn = config.ValidatorInput
	} else {
		f.validatorIn, _ = NewValidator(nil, nil)
	}
	if config.ValidatorOutput != nil {
		f.validatorOut = config.ValidatorOutput
	} else {
		f.validatorOut, _ = NewValidator(nil, nil)
	}

	if !config.SkipSkills {
		if err := f.ReloadSkills(); err != nil {
			return nil, fmt.Errorf("invalid ffmpeg: %w", err)
		}
		if missing := f.Skills().Missing(); len(missing) > 0 {
			f.logger.Warn("ffmpeg lacks %s; affected effects will fail to render", strings.Join(missing, ", "))
		}
	}

	return f, nil
}

// ValidateInput reports whether address may be read.
func (f *FFmpeg) ValidateInput(address string) bool {
	return f.validatorIn.IsValid(address)
}

// ValidateOutput reports whether address may be written.
func (f *FFmpeg) ValidateOutput(address string) bool {
	return f.validatorOut.IsValid(address)
}

// Skills returns the detected capabilities.
func (f *FFmpeg) Skills() skills.Skills {
	f.skillsLock.RLock()
	defer f.skillsLock.RUnlock()
	return f.skills
}

// ReloadSkills re-runs capability detection.
func (f *FFmpeg) ReloadSkills() error {
	s, err := skills.New(f.binary)
	if err != nil {
		return fmt.Errorf("reload skills: %w", err)
	}
	f.skillsLock.Lock()
	f.skills = s
	f.skillsLock.Unlock()
	return nil
}

// run executes ffmpeg with args. expected is the output duration used for
// progress percentages.
func (f *FFmpeg) run(ctx context.Context, op string, args []string, expected float64, log logger.Logger) (Stats, error) {
	if log == nil {
		log = f.logger
	}
	parser := parse.New(parse.Config{LogLines: f.logLines, Duration: expected})

	proc, err := process.New(process.Config{
		Binary:       f.binary,
		Args:         args,
		StaleTimeout: f.staleTimeout,
		Parser:       parser,
		Sampler:      process.NewSysSampler(f.sampleInterval),
		Logger:       log,
		OnStateChange: func(from, to string) {
			log.Debug("ffmpeg %s state %s -> %s", op, from, to)
		},
	})
	if err != nil {
		return Stats{}, err
	}

	log.Debug("ffmpeg %s", strings.Join(args, " "))
	res, err := proc.Run(ctx)
	stats := Stats{
		Duration:   res.Duration,
		PeakCPU:    res.PeakCPU,
		PeakMemory: res.PeakMemory,
		Progress:   parser.Progress(),
	}
	if err != nil {
		return stats, &RunError{Op: op, Tail: parser.Tail(5), Err: err}
	}
	return stats, nil
}
