// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package process

import (
	"sync"
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

// Sampler observes CPU and memory of a running process. NullSampler does
// nothing.
type Sampler interface {
	Start(pid int) error
	Stop()
	Current() (cpu float64, memory uint64)
	Peak() (cpu float64, memory uint64)
}

type nullSampler struct{}

// NewNullSampler returns a no-op sampler
func NewNullSampler() Sampler {
	return &nullSampler{}
}

func (s *nullSampler) Start(pid int) error        { return nil }
func (s *nullSampler) Stop()                      {}
func (s *nullSampler) Current() (float64, uint64) { return 0, 0 }
func (s *nullSampler) Peak() (float64, uint64)    { return 0, 0 }

// sysSampler 使用 gopsutil 周期采集进程 CPU 和内存，并记录峰值
type sysSampler struct {
	mu       sync.RWMutex
	proc     *gopsutilprocess.Process
	interval time.Duration
	cpu      float64
	memory   uint64
	peakCPU  float64
	peakMem  uint64
	done     chan struct{}
}

// NewSysSampler 创建基于 gopsutil 的采样器；interval <= 0 时默认 1s
func NewSysSampler(interval time.Duration) Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &sysSampler{interval: interval}
}

func (s *sysSampler) Start(pid int) error {
	proc, err := gopsutilprocess.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.proc = proc
	s.cpu, s.memory, s.peakCPU, s.peakMem = 0, 0, 0, 0
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(proc, done)
	return nil
}

func (s *sysSampler) loop(proc *gopsutilprocess.Process, done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.sample(proc)
		}
	}
}

func (s *sysSampler) sample(proc *gopsutilprocess.Process) {
	var cpu float64
	var memory uint64
	if pct, err := proc.CPUPercent(); err == nil {
		cpu = pct
	}
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		memory = info.RSS
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu, s.memory = cpu, memory
	if cpu > s.peakCPU {
		s.peakCPU = cpu
	}
	if memory > s.peakMem {
		s.peakMem = memory
	}
}

func (s *sysSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.proc = nil
	s.cpu, s.memory = 0, 0
}

func (s *sysSampler) Current() (float64, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpu, s.memory
}

func (s *sysSampler) Peak() (float64, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peakCPU, s.peakMem
}
