// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package parse

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	var last Progress
	p := New(Config{Duration: 10, OnProgress: func(pr Progress) { last = pr }})

	n := p.Parse("frame=  150 fps= 60 q=28.0 size=    512KiB time=00:00:05.00 bitrate= 838.9kbits/s dup=2 drop=1 speed=2.5x")
	assert.NotZero(t, n)

	got := p.Progress()
	assert.Equal(t, uint64(150), got.Frame)
	assert.Equal(t, uint64(512*1024), got.Size)
	assert.InDelta(t, 5.0, got.Time, 1e-9)
	assert.InDelta(t, 2.5, got.Speed, 1e-9)
	assert.Equal(t, uint64(2), got.Dup)
	assert.Equal(t, uint64(1), got.Drop)
	assert.InDelta(t, 28.0, got.Quantizer, 1e-9)
	assert.InDelta(t, 50.0, got.Percent, 1e-9)
	assert.Equal(t, got, last)
}

func TestParseNonProgressLine(t *testing.T) {
	p := New(Config{})
	assert.Zero(t, p.Parse("Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mp4':"))
	assert.Equal(t, Progress{}, p.Progress())
}

func TestPercentCapped(t *testing.T) {
	p := New(Config{Duration: 1})
	p.Parse("frame=10 time=00:00:02.50 speed=1x")
	assert.Equal(t, 100.0, p.Progress().Percent)
}

func TestLogRingAndTail(t *testing.T) {
	p := New(Config{LogLines: 5})
	for i := 0; i < 8; i++ {
		p.Parse(fmt.Sprintf("line %d", i))
	}
	p.Parse("frame=1 time=00:00:00.04")

	log := p.Log()
	require.Len(t, log, 5)
	assert.Equal(t, "line 4", log[0].Data)

	assert.Equal(t, []string{"line 6", "line 7"}, p.Tail(2))
	assert.Len(t, p.Tail(0), 4)
}

func TestParseCopyStatsLine(t *testing.T) {
	p := New(Config{Duration: 8})
	n := p.Parse("size=    2048kB time=00:00:04.00 bitrate=4194.3kbits/s speed= 120x")
	assert.Equal(t, uint64(1), n)

	got := p.Progress()
	assert.Equal(t, uint64(2048*1024), got.Size)
	assert.InDelta(t, 4.0, got.Time, 1e-9)
	assert.InDelta(t, 120.0, got.Speed, 1e-9)
	assert.InDelta(t, 50.0, got.Percent, 1e-9)
}

func TestParseFinalLineAndOddValues(t *testing.T) {
	p := New(Config{})
	p.Parse("frame=  250 fps=0.0 q=-1.0 Lsize=    1000KiB time=01:02:03.5 bitrate=N/A speed=N/A")
	got := p.Progress()
	assert.Equal(t, uint64(250), got.Frame)
	assert.Equal(t, uint64(1000*1024), got.Size)
	assert.InDelta(t, 3723.5, got.Time, 1e-9)
	assert.InDelta(t, -1.0, got.Quantizer, 1e-9)
	assert.Zero(t, got.Speed)

	p.Parse("frame=  251 time=N/A")
	assert.InDelta(t, 3723.5, p.Progress().Time, 1e-9)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"00:00:05.00", 5, true},
		{"00:01:00.040", 60.04, true},
		{"-00:00:00.02", -0.02, true},
		{"N/A", 0, false},
		{"05.00", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}
