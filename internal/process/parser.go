// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package process

import "time"

// Parser parses process output (e.g. FFmpeg stderr). Parse returns a
// non-zero value when the line reported progress.
type Parser interface {
	Parse(line string) uint64
	Log() []Line
}

// Line is a timestamped log line
type Line struct {
	Timestamp time.Time
	Data      string
}
