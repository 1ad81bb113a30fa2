// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package ffmpeg

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input address")
	ErrInvalidOutput = errors.New("invalid output address")
	ErrNoVideo       = errors.New("source has no video stream")
)
