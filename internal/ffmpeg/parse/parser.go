// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package parse reads ffmpeg's stderr: it keeps a bounded log and tracks
// the stats line ffmpeg rewrites while encoding.
package parse

import (
	"container/ring"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZSC714725/smarttimeline/internal/process"
)

// Progress is the latest stats line. Percent is only set when the expected
// output duration is known.
type Progress struct {
	Frame     uint64  `json:"frame"`
	Size      uint64  `json:"size_bytes"`
	Time      float64 `json:"time_seconds"`
	Speed     float64 `json:"speed"`
	Drop      uint64  `json:"drop"`
	Dup       uint64  `json:"dup"`
	Quantizer float64 `json:"q"`
	Percent   float64 `json:"percent"`
}

// Parser implements process.Parser for ffmpeg.
type Parser interface {
	process.Parser
	Progress() Progress
	// Tail returns the last n lines that are not stats lines, oldest first.
	Tail(n int) []string
}

// Config for the parser
type Config struct {
	LogLines int
	// Duration is the expected output duration in seconds, used for Percent.
	Duration float64
	// OnProgress is called after every stats line.
	OnProgress func(Progress)
}

// key=value pairs of a stats line; ffmpeg pads values with spaces.
var statField = regexp.MustCompile(`([A-Za-z_]+)=\s*(\S+)`)

type parser struct {
	log        *ring.Ring
	duration   float64
	onProgress func(Progress)

	progress Progress
	lock     sync.RWMutex
}

// New creates a Parser
func New(config Config) Parser {
	if config.LogLines <= 0 {
		config.LogLines = 100
	}
	return &parser{
		log:        ring.New(config.LogLines),
		duration:   config.Duration,
		onProgress: config.OnProgress,
	}
}

// isStats reports whether line is ffmpeg's periodic stats line. Copies
// without video report size= first.
func isStats(line string) bool {
	line = strings.TrimSpace(line)
	return strings.Contains(line, "time=") &&
		(strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size="))
}

// Parse records line and returns non-zero when it carried progress.
func (p *parser) Parse(line string) uint64 {
	stats := isStats(line)

	p.lock.Lock()
	p.log.Value = process.Line{Timestamp: time.Now(), Data: line}
	p.log = p.log.Next()
	if !stats {
		p.lock.Unlock()
		return 0
	}

	for _, m := range statField.FindAllStringSubmatch(line, -1) {
		p.progress.set(m[1], m[2])
	}
	if p.duration > 0 {
		p.progress.Percent = min(p.progress.Time/p.duration*100, 100)
	}
	progress := p.progress
	cb := p.onProgress
	p.lock.Unlock()

	if cb != nil {
		cb(progress)
	}
	// frame 可能为 0，加一保证非零
	return progress.Frame + 1
}

func (pr *Progress) set(key, value string) {
	switch key {
	case "frame":
		if x, err := strconv.ParseUint(value, 10, 64); err == nil {
			pr.Frame = x
		}
	case "q":
		if x, err := strconv.ParseFloat(value, 64); err == nil {
			pr.Quantizer = x
		}
	case "size", "Lsize":
		if x, ok := parseSize(value); ok {
			pr.Size = x
		}
	case "time":
		if x, ok := parseClock(value); ok {
			pr.Time = x
		}
	case "speed":
		if x, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			pr.Speed = x
		}
	case "drop":
		if x, err := strconv.ParseUint(value, 10, 64); err == nil {
			pr.Drop = x
		}
	case "dup":
		if x, err := strconv.ParseUint(value, 10, 64); err == nil {
			pr.Dup = x
		}
	}
}

// parseSize reads "512KiB" or "512kB" as bytes.
func parseSize(v string) (uint64, bool) {
	for _, unit := range []string{"KiB", "kB", "KB"} {
		if n, ok := strings.CutSuffix(v, unit); ok {
			x, err := strconv.ParseUint(n, 10, 64)
			return x * 1024, err == nil
		}
	}
	x, err := strconv.ParseUint(strings.TrimSuffix(v, "B"), 10, 64)
	return x, err == nil
}

// parseClock reads [-]HH:MM:SS.frac as seconds.
func parseClock(v string) (float64, bool) {
	neg := strings.HasPrefix(v, "-")
	parts := strings.Split(strings.TrimPrefix(v, "-"), ":")
	if len(parts) != 3 {
		return 0, false
	}
	var secs float64
	for _, part := range parts {
		x, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		secs = secs*60 + x
	}
	if neg {
		secs = -secs
	}
	return secs, true
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Tail(n int) []string {
	var out []string
	for _, l := range p.Log() {
		if isStats(l.Data) {
			continue
		}
		out = append(out, l.Data)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (p *parser) Progress() Progress {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.progress
}
