// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎
//
// Package process wraps exec.Cmd for running one FFmpeg invocation to
// completion.

package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStale is returned when the process stopped reporting progress.
var ErrStale = errors.New("process stalled")

// Config for a process
type Config struct {
	Binary        string
	Args          []string
	Dir           string
	StaleTimeout  time.Duration
	KillDelay     time.Duration
	Parser        Parser
	Sampler       Sampler
	OnStateChange func(from, to string)
	Logger        Logger
}

// Status of a process
type Status struct {
	State    string
	States   States
	Duration time.Duration
	Time     time.Time
	CPU      struct {
		Current float64
		Peak    float64
	}
	Memory struct {
		Current uint64
		Peak    uint64
	}
}

// States cumulative counts
type States struct {
	Finished  uint64
	Starting  uint64
	Running   uint64
	Finishing uint64
	Failed    uint64
	Killed    uint64
}

// Result of a finished run.
type Result struct {
	State      string        `json:"state"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	PeakCPU    float64       `json:"peak_cpu"`
	PeakMemory uint64        `json:"peak_memory"`
}

// ExitError reports a run that did not finish cleanly, with the tail of
// its output.
type ExitError struct {
	State    string
	ExitCode int
	Log      []Line
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("process %s (exit %d)", e.State, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if n := len(e.Log); n > 0 {
		msg += ": " + e.Log[n-1].Data
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Logger interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type stateType string

const (
	stateIdle      stateType = "idle"
	stateStarting  stateType = "starting"
	stateRunning   stateType = "running"
	stateFinishing stateType = "finishing"
	stateFinished  stateType = "finished"
	stateFailed    stateType = "failed"
	stateKilled    stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateStarting || s == stateRunning || s == stateFinishing
}

// transitions lists the allowed moves out of each state. Terminal states
// have no entry.
var transitions = map[stateType][]stateType{
	stateIdle:      {stateStarting},
	stateStarting:  {stateRunning, stateFailed},
	stateRunning:   {stateFinishing, stateFinished, stateFailed, stateKilled},
	stateFinishing: {stateFinished, stateFailed, stateKilled},
}

func (s *States) count(state stateType) {
	switch state {
	case stateStarting:
		s.Starting++
	case stateRunning:
		s.Running++
	case stateFinishing:
		s.Finishing++
	case stateFinished:
		s.Finished++
	case stateFailed:
		s.Failed++
	case stateKilled:
		s.Killed++
	}
}

// Process runs a single command. It is not restartable.
type Process struct {
	binary    string
	args      []string
	dir       string
	killDelay time.Duration

	state struct {
		state  stateType
		time   time.Time
		states States
		lock   sync.Mutex
	}
	parser  Parser
	sampler Sampler
	stale   struct {
		last    time.Time
		timeout time.Duration
		lock    sync.Mutex
	}
	logger        Logger
	onStateChange func(from, to string)
	started       atomic.Bool
}

// New creates a process from config. The command is not started.
func New(config Config) (*Process, error) {
	if len(config.Binary) == 0 {
		return nil, fmt.Errorf("no valid binary given")
	}

	p := &Process{
		binary:        config.Binary,
		args:          config.Args,
		dir:           config.Dir,
		killDelay:     config.KillDelay,
		parser:        config.Parser,
		sampler:       config.Sampler,
		logger:        config.Logger,
		onStateChange: config.OnStateChange,
	}
	if p.parser == nil {
		p.parser = &nullParser{}
	}
	if p.sampler == nil {
		p.sampler = NewNullSampler()
	}
	if p.logger == nil {
		p.logger = &nopLogger{}
	}
	if p.killDelay <= 0 {
		p.killDelay = 5 * time.Second
	}

	p.state.state = stateIdle
	p.state.time = time.Now()
	p.stale.timeout = config.StaleTimeout
	return p, nil
}

func (p *Process) setState(to stateType) error {
	p.state.lock.Lock()
	from := p.state.state
	if !slices.Contains(transitions[from], to) {
		p.state.lock.Unlock()
		return fmt.Errorf("can't change from %s to %s", from, to)
	}
	p.state.state = to
	p.state.time = time.Now()
	p.state.states.count(to)
	p.state.lock.Unlock()

	if p.onStateChange != nil {
		p.onStateChange(from.String(), to.String())
	}
	return nil
}

func (p *Process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

// IsRunning reports whether the command is between start and exit.
func (p *Process) IsRunning() bool {
	return p.getState().IsRunning()
}

func (p *Process) Status() Status {
	cpu, memory := p.sampler.Current()
	peakCPU, peakMemory := p.sampler.Peak()

	p.state.lock.Lock()
	s := Status{
		State:    p.state.state.String(),
		States:   p.state.states,
		Duration: time.Since(p.state.time),
		Time:     p.state.time,
	}
	p.state.lock.Unlock()

	s.CPU.Current = cpu
	s.CPU.Peak = peakCPU
	s.Memory.Current = memory
	s.Memory.Peak = peakMemory
	return s
}

// Run starts the command and blocks until it exits. Cancelling ctx sends
// an interrupt and kills the process if it has not exited after the kill
// delay.
func (p *Process) Run(ctx context.Context) (Result, error) {
	if !p.started.CompareAndSwap(false, true) {
		return Result{}, fmt.Errorf("process already ran")
	}

	begin := time.Now()
	p.setState(stateStarting)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cmd := exec.CommandContext(runCtx, p.binary, p.args...)
	cmd.Dir = p.dir
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = p.killDelay

	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(stateFailed)
		p.parser.Parse(err.Error())
		return p.result(begin, -1), &ExitError{State: stateFailed.String(), ExitCode: -1, Err: err}
	}

	if err := cmd.Start(); err != nil {
		p.setState(stateFailed)
		p.parser.Parse(err.Error())
		return p.result(begin, -1), &ExitError{State: stateFailed.String(), ExitCode: -1, Log: p.parser.Log(), Err: err}
	}

	if err := p.sampler.Start(cmd.Process.Pid); err != nil {
		p.logger.Debug("sampler start pid=%d: %v", cmd.Process.Pid, err)
	}
	p.setState(stateRunning)
	p.logger.Debug("process started pid=%d %s", cmd.Process.Pid, p.binary)

	if p.stale.timeout > 0 {
		go p.staler(runCtx, cancel)
	}

	p.reader(stderr)
	waitErr := cmd.Wait()
	p.sampler.Stop()

	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	if cause := context.Cause(runCtx); runCtx.Err() != nil {
		p.setState(stateFinishing)
		p.setState(stateKilled)
		if errors.Is(cause, ErrStale) {
			return p.result(begin, code), &ExitError{State: stateKilled.String(), ExitCode: code, Log: p.parser.Log(), Err: ErrStale}
		}
		return p.result(begin, code), &ExitError{State: stateKilled.String(), ExitCode: code, Log: p.parser.Log(), Err: ctx.Err()}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		state := stateKilled
		if errors.As(waitErr, &exitErr) && exitErr.Exited() {
			state = stateFailed
		}
		p.setState(state)
		return p.result(begin, code), &ExitError{State: state.String(), ExitCode: code, Log: p.parser.Log(), Err: waitErr}
	}

	p.setState(stateFinished)
	return p.result(begin, code), nil
}

func (p *Process) result(begin time.Time, code int) Result {
	cpu, mem := p.sampler.Peak()
	return Result{
		State:      p.getState().String(),
		ExitCode:   code,
		Duration:   time.Since(begin),
		PeakCPU:    cpu,
		PeakMemory: mem,
	}
}

// Log returns the retained output lines.
func (p *Process) Log() []Line {
	return p.parser.Log()
}

func (p *Process) staler(ctx context.Context, cancel context.CancelCauseFunc) {
	p.stale.lock.Lock()
	p.stale.last = time.Now()
	p.stale.lock.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.stale.lock.Lock()
			last := p.stale.last
			timeout := p.stale.timeout
			p.stale.lock.Unlock()

			if t.Sub(last) > timeout {
				p.logger.Error("process stalled for %s, stopping", timeout)
				cancel(ErrStale)
				return
			}
		}
	}
}

func (p *Process) reader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLine)

	for scanner.Scan() {
		n := p.parser.Parse(scanner.Text())
		if n != 0 {
			p.stale.lock.Lock()
			p.stale.last = time.Now()
			p.stale.lock.Unlock()
		}
	}
}

// scanLine splits on \n or \r. ffmpeg rewrites its stats line with a
// bare carriage return. Empty lines are skipped.
func scanLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := len(data) - len(bytes.TrimLeft(data, "\r\n"))
	rest := data[skip:]

	if i := bytes.IndexAny(rest, "\r\n"); i >= 0 {
		return skip + i + 1, rest[:i], nil
	}
	if atEOF && len(rest) > 0 {
		return len(data), rest, nil
	}
	return skip, nil, nil
}

type nullParser struct{}

func (p *nullParser) Parse(line string) uint64 { return 1 }
func (p *nullParser) Log() []Line              { return nil }

type nopLogger struct{}

func (l *nopLogger) Info(format string, args ...interface{})  {}
func (l *nopLogger) Error(format string, args ...interface{}) {}
func (l *nopLogger) Debug(format string, args ...interface{}) {}
