// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/smarttimeline/internal/editmap"
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/engine"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

type fakeRenderer struct {
	mu      sync.Mutex
	block   bool
	started chan struct{}
	calls   int
}

func (f *fakeRenderer) Render(ctx context.Context, job ffmpeg.RenderJob) (ffmpeg.Stats, error) {
	return f.do(ctx, job.Output)
}

func (f *fakeRenderer) Copy(ctx context.Context, job ffmpeg.CopyJob) (ffmpeg.Stats, error) {
	return f.do(ctx, job.Output)
}

func (f *fakeRenderer) do(ctx context.Context, output string) (ffmpeg.Stats, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		if f.started != nil {
			select {
			case f.started <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return ffmpeg.Stats{}, ctx.Err()
	}
	return ffmpeg.Stats{}, os.WriteFile(output, []byte(filepath.Base(output)), 0o644)
}

func (f *fakeRenderer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type touchJoiner struct{}

func (touchJoiner) Join(_ context.Context, paths []string, output string) error {
	return os.WriteFile(output, []byte(strings.Join(paths, "\n")), 0o644)
}

type fakeProber struct {
	info ffmpeg.SourceInfo
}

func (p fakeProber) Probe(context.Context, string) (ffmpeg.SourceInfo, error) {
	return p.info, nil
}

func (p fakeProber) Keyframes(_ context.Context, _ string, tolerance float64) (*ffmpeg.KeyframeIndex, error) {
	return ffmpeg.NewKeyframeIndex([]float64{0, 2, 4, 6, 8}, tolerance), nil
}

type prefixValidator struct{}

func (prefixValidator) ValidateInput(address string) bool {
	return !strings.HasPrefix(address, "rtmp://")
}

func (prefixValidator) ValidateOutput(address string) bool {
	return !strings.HasPrefix(address, "/etc/")
}

func newStore(t *testing.T, r engine.Renderer, prober engine.Prober, wm *editmap.Watermark) Store {
	e := engine.New(r, touchJoiner{}, prober, engine.Options{
		Workers: 2,
		Retry:   engine.RetryPolicy{Attempts: 1, InitialDelay: time.Millisecond},
		WorkDir: t.TempDir(),
	})
	return NewStore(Config{
		Engine:    e,
		Prober:    prober,
		Validator: prefixValidator{},
		Spec:      media.NewOutputSpec(media.Resolution720p),
		Watermark: wm,
	})
}

func input(t *testing.T, editMap string) *Input {
	return &Input{
		Source:     "in.mp4",
		Output:     filepath.Join(t.TempDir(), "out.mp4"),
		Duration:   10,
		Resolution: media.Resolution720p,
		EditMap:    json.RawMessage(editMap),
	}
}

const zoomEditMap = `{"edits":[{"id":"e1","start":2,"end":5,"zoom":1.2}]}`

func TestSubmitRunsInBackground(t *testing.T) {
	r := &fakeRenderer{}
	s := newStore(t, r, nil, nil)

	in := input(t, zoomEditMap)
	in.Reference = "ref"
	j, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	assert.Equal(t, "start", j.Order())

	require.NoError(t, j.Wait())
	assert.Equal(t, engine.StateDone, j.State())
	assert.Equal(t, 3, r.count())
	assert.FileExists(t, in.Output)

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Same(t, j, got)
	assert.Equal(t, "ref", got.Reference)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	s := newStore(t, &fakeRenderer{}, nil, nil)

	tests := []struct {
		name   string
		modify func(in *Input)
		want   error
	}{
		{"no source", func(in *Input) { in.Source = "" }, ErrInvalidInput},
		{"no output", func(in *Input) { in.Output = "" }, ErrInvalidInput},
		{"source address", func(in *Input) { in.Source = "rtmp://live/x" }, ErrInvalidInputAddress},
		{"output address", func(in *Input) { in.Output = "/etc/passwd" }, ErrInvalidOutputAddress},
		{"malformed edit map", func(in *Input) { in.EditMap = json.RawMessage(`{"edits":[{"start":"x"}]}`) }, errs.ErrValidation},
		{"unknown duration", func(in *Input) { in.Duration = 0 }, errs.ErrValidation},
		{"overlapping speed", func(in *Input) {
			in.EditMap = json.RawMessage(`{"edits":[{"start":1,"end":3,"speed":2},{"start":2,"end":4,"speed":0.5}]}`)
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, zoomEditMap)
			tt.modify(in)
			j, err := s.Submit(context.Background(), in)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			// Overlaps are caught by the timeline builder once the job runs.
			require.NoError(t, err)
			assert.ErrorIs(t, j.Wait(), errs.ErrValidation)
			assert.Nil(t, j.Plan())
		})
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	s := newStore(t, &fakeRenderer{}, nil, nil)

	in := input(t, "")
	in.ID = "same"
	j, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	again := input(t, "")
	again.ID = "same"
	_, err = s.Submit(context.Background(), again)
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestSubmitProbesDuration(t *testing.T) {
	p := fakeProber{info: ffmpeg.SourceInfo{Duration: 8, Width: 1280, Height: 720, FPS: 25, HasAudio: true}}
	s := newStore(t, &fakeRenderer{}, p, nil)

	in := input(t, zoomEditMap)
	in.Duration = 0
	j, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, j.Wait())

	plan := j.Plan()
	assert.Equal(t, 8.0, plan.Duration)
	assert.True(t, plan.Output.HasAudio)
	assert.Equal(t, 8.0, j.Output().Duration)
}

func TestCancel(t *testing.T) {
	r := &fakeRenderer{block: true, started: make(chan struct{}, 1)}
	s := newStore(t, r, nil, nil)

	j, err := s.Submit(context.Background(), input(t, zoomEditMap))
	require.NoError(t, err)

	select {
	case <-r.started:
	case <-time.After(5 * time.Second):
		t.Fatal("renderer never started")
	}

	require.NoError(t, s.Cancel(j.ID))
	assert.Equal(t, "cancel", j.Order())
	assert.ErrorIs(t, j.Err(), errs.ErrCancelled)
	assert.Equal(t, engine.StateFailed, j.State())

	assert.ErrorIs(t, s.Cancel(j.ID), ErrJobFinished)
	assert.ErrorIs(t, s.Cancel("missing"), ErrNotFound)
}

func TestDelete(t *testing.T) {
	r := &fakeRenderer{block: true}
	s := newStore(t, r, nil, nil)

	j, err := s.Submit(context.Background(), input(t, zoomEditMap))
	require.NoError(t, err)

	require.NoError(t, s.Delete(j.ID))
	<-j.Done()
	_, err = s.Get(j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(j.ID), ErrNotFound)
}

func TestList(t *testing.T) {
	s := newStore(t, &fakeRenderer{}, nil, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		in := input(t, "")
		in.ID = fmt.Sprintf("job%d", i)
		in.Reference = "a"
		if i == 2 {
			in.Reference = "b"
		}
		j, err := s.Submit(context.Background(), in)
		require.NoError(t, err)
		require.NoError(t, j.Wait())
		ids = append(ids, j.ID)
	}

	idsOf := func(jobs []*Job) []string {
		var out []string
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}
	assert.Equal(t, ids, idsOf(s.List(nil, "")))
	assert.Equal(t, []string{"job0", "job1"}, idsOf(s.List(nil, "a")))
	assert.Equal(t, []string{"job2"}, idsOf(s.List([]string{"job2", "job0"}, "b")))
	assert.Empty(t, s.List([]string{"nope"}, ""))
}

func TestPlanIsDryRun(t *testing.T) {
	r := &fakeRenderer{}
	wm := &editmap.Watermark{Image: "logo.png"}
	s := newStore(t, r, nil, wm)

	in := input(t, `{"subtitles":[{"id":"s1","text":"hello","start":1,"end":2}]}`)
	j, err := s.Plan(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePlanned, j.State())
	assert.Equal(t, 0, r.count())

	// The default watermark covers the whole timeline, so nothing copies.
	plan := j.Plan()
	for _, u := range plan.Units {
		assert.Equal(t, timeline.StrategyRender, u.Strategy)
		assert.Equal(t, planner.ReasonEffects, u.Reason)
		g, ok := j.Graph(u.Index)
		require.True(t, ok)
		assert.Contains(t, g.StageNames(), "watermark")
	}
	assert.Len(t, plan.Units, 3)

	_, err = s.Get(j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInputInstructionsKeepsExplicitWatermark(t *testing.T) {
	in := input(t, `{"watermark":{"image":"mine.png","position":"top_left"}}`)
	instructions, err := in.Instructions(10, &editmap.Watermark{Image: "default.png"})
	require.NoError(t, err)
	require.Len(t, instructions, 1)
	wm, ok := instructions[0].Params.(effect.Watermark)
	require.True(t, ok)
	assert.Equal(t, "mine.png", wm.Image)
	assert.Equal(t, effect.PositionTopLeft, wm.Position)
}
