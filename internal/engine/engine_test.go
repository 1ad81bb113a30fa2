// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/ffmpeg"
	"github.com/ZSC714725/smarttimeline/internal/media"
	"github.com/ZSC714725/smarttimeline/internal/planner"
	"github.com/ZSC714725/smarttimeline/internal/timeline"
)

// fakeRenderer writes a one-line file per unit and reports the expected
// output length unless lengths overrides it. Behaviour is keyed by the
// start of the unit's range.
type fakeRenderer struct {
	mu       sync.Mutex
	delay    map[float64]time.Duration
	failures map[float64]int
	lengths  map[float64]float64
	silent   bool
	err      error
	started  chan float64
	calls    map[float64]int
	done     []float64
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		delay:    map[float64]time.Duration{},
		failures: map[float64]int{},
		lengths:  map[float64]float64{},
		calls:    map[float64]int{},
	}
}

func (f *fakeRenderer) Render(ctx context.Context, job ffmpeg.RenderJob) (ffmpeg.Stats, error) {
	if job.Graph == nil {
		return ffmpeg.Stats{}, errors.New("missing graph")
	}
	return f.do(ctx, "render", job.Range, job.Output, job.Graph.OutputDuration)
}

func (f *fakeRenderer) Copy(ctx context.Context, job ffmpeg.CopyJob) (ffmpeg.Stats, error) {
	return f.do(ctx, "copy", job.Range, job.Output, job.Range.Duration())
}

func (f *fakeRenderer) do(ctx context.Context, kind string, r media.Range, output string, length float64) (ffmpeg.Stats, error) {
	f.mu.Lock()
	f.calls[r.Start]++
	n := f.calls[r.Start]
	failures := f.failures[r.Start]
	delay := f.delay[r.Start]
	if l, ok := f.lengths[r.Start]; ok {
		length = l
	}
	if f.silent {
		length = 0
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- r.Start
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ffmpeg.Stats{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if f.err != nil {
		return ffmpeg.Stats{}, f.err
	}
	if n <= failures {
		return ffmpeg.Stats{}, fmt.Errorf("encoder crashed on attempt %d", n)
	}
	if err := os.WriteFile(output, []byte(fmt.Sprintf("%s %s\n", kind, r)), 0o644); err != nil {
		return ffmpeg.Stats{}, err
	}

	f.mu.Lock()
	f.done = append(f.done, r.Start)
	f.mu.Unlock()
	stats := ffmpeg.Stats{Duration: time.Millisecond}
	stats.Progress.Time = length
	return stats, nil
}

func (f *fakeRenderer) callsAt(start float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[start]
}

// catJoiner concatenates the unit files byte for byte.
type catJoiner struct {
	mu    sync.Mutex
	paths []string
	calls int
	err   error
}

func (j *catJoiner) Join(_ context.Context, paths []string, output string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	j.paths = nil
	for _, p := range paths {
		j.paths = append(j.paths, filepath.Base(p))
	}
	if j.err != nil {
		return j.err
	}
	var data []byte
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		data = append(data, b...)
	}
	return os.WriteFile(output, data, 0o644)
}

type fakeProber struct {
	info       ffmpeg.SourceInfo
	err        error
	keyframes  []float64
	keyErr     error
	tolerances []float64
}

func (p *fakeProber) Probe(context.Context, string) (ffmpeg.SourceInfo, error) {
	return p.info, p.err
}

func (p *fakeProber) Keyframes(_ context.Context, _ string, tolerance float64) (*ffmpeg.KeyframeIndex, error) {
	p.tolerances = append(p.tolerances, tolerance)
	if p.keyErr != nil {
		return nil, p.keyErr
	}
	return ffmpeg.NewKeyframeIndex(p.keyframes, tolerance), nil
}

func testOptions(t *testing.T) Options {
	return Options{
		Workers: 4,
		Retry:   RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
		WorkDir: t.TempDir(),
	}
}

func request(t *testing.T, id string, duration float64, instructions ...effect.Instruction) Request {
	return Request{
		ID:           id,
		Source:       "source.mp4",
		Output:       filepath.Join(t.TempDir(), "out.mp4"),
		Instructions: instructions,
		Duration:     duration,
		Spec:         media.NewOutputSpec(media.Resolution720p),
		Probe:        planner.AllSafe,
	}
}

func zoom(id string, start, end float64) effect.Instruction {
	return effect.New(id, start, end, effect.Zoom{Factor: 1.2, AnchorX: 0.5, AnchorY: 0.5})
}

func caption(id string, start, end float64) effect.Instruction {
	return effect.New(id, start, end, effect.Caption{Text: "hi", Style: effect.DefaultCaptionStyle()})
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunZoomScenario(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	var transitions []string
	opts := testOptions(t)
	opts.OnStateChange = func(_ *Job, from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s>%s", from, to))
	}
	e := New(r, j, nil, opts)

	job := e.NewJob(request(t, "scenario", 10, zoom("z", 2, 5)))
	out, err := e.Run(context.Background(), job)
	require.NoError(t, err)

	type unit struct {
		Start, End float64
		Strategy   timeline.Strategy
	}
	var got []unit
	for _, u := range job.Plan().Units {
		got = append(got, unit{u.Start, u.End, u.Strategy})
	}
	want := []unit{
		{0, 2, timeline.StrategyCopy},
		{2, 5, timeline.StrategyRender},
		{5, 10, timeline.StrategyCopy},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("units mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"seg_0000.mp4", "seg_0001.mp4", "seg_0002.mp4"}, j.paths)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "copy [0.000,2.000)\nrender [2.000,5.000)\ncopy [5.000,10.000)\n", string(data))
	assert.InDelta(t, 10.0, out.Duration, 1e-9)
	assert.Equal(t, 3, out.Units)

	assert.Equal(t, StateDone, job.State())
	assert.Equal(t, []string{
		"pending>built", "built>planned", "planned>rendering", "rendering>assembling", "assembling>done",
	}, transitions)

	snap := job.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Done)
	for _, u := range snap.Units {
		assert.Equal(t, UnitDone, u.State)
		assert.Equal(t, 1, u.Attempts)
	}

	g, ok := job.Graph(1)
	require.True(t, ok)
	assert.Contains(t, g.StageNames(), "zoom")
	_, ok = job.Graph(0)
	assert.False(t, ok)

	assertWorkDirEmpty(t, opts.WorkDir)
}

func TestOutOfOrderCompletionMatchesInOrder(t *testing.T) {
	instructions := []effect.Instruction{zoom("z", 2, 5), caption("c", 6, 8)}

	run := func(workers int, delay map[float64]time.Duration) (string, []float64) {
		r, j := newFakeRenderer(), &catJoiner{}
		r.delay = delay
		opts := testOptions(t)
		opts.Workers = workers
		e := New(r, j, nil, opts)
		out, err := e.Run(context.Background(), e.NewJob(request(t, fmt.Sprintf("w%d", workers), 10, instructions...)))
		require.NoError(t, err)
		data, err := os.ReadFile(out.Path)
		require.NoError(t, err)
		return string(data), r.done
	}

	sequential, order := run(1, nil)
	assert.Equal(t, []float64{0, 2, 5, 6, 8}, order)

	parallel, order := run(5, map[float64]time.Duration{0: 80 * time.Millisecond, 2: 40 * time.Millisecond})
	require.Len(t, order, 5)
	assert.NotEqual(t, 0.0, order[0], "unit 0 should finish late")
	assert.Equal(t, sequential, parallel)
}

func TestRetryThenSuccess(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.failures[2] = 2
	e := New(r, j, nil, testOptions(t))

	job := e.NewJob(request(t, "retry", 10, zoom("z", 2, 5)))
	_, err := e.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 3, r.callsAt(2))
	u := job.Snapshot().Units[1]
	assert.Equal(t, UnitDone, u.State)
	assert.Equal(t, 3, u.Attempts)
	assert.Empty(t, u.LastError)
}

func TestRetriesExhaustedFailsJob(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.failures[2] = 10
	opts := testOptions(t)
	e := New(r, j, nil, opts)

	req := request(t, "exhausted", 10, zoom("z", 2, 5))
	job := e.NewJob(req)
	_, err := e.Run(context.Background(), job)
	require.Error(t, err)

	assert.True(t, errors.Is(err, errs.ErrAssembly))
	assert.True(t, errors.Is(err, errs.ErrRender))
	var e2 *errs.Error
	require.True(t, errors.As(err, &e2))
	assert.Equal(t, []int{1}, e2.Segments)
	assert.Equal(t, []media.Range{{Start: 2, End: 5}}, e2.Ranges)
	assert.Contains(t, err.Error(), "after 3 attempts")

	assert.Equal(t, 3, r.callsAt(2))
	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, err, job.Err())
	assert.Equal(t, 0, j.calls)
	assert.NoFileExists(t, req.Output)
	assertWorkDirEmpty(t, opts.WorkDir)

	snap := job.Snapshot()
	assert.Equal(t, errs.CategoryAssembly, snap.Category)
	assert.Equal(t, UnitFailed, snap.Units[1].State)
	assert.Contains(t, snap.Units[1].LastError, "encoder crashed on attempt 3")
}

func TestShortUnitFailsAssembly(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.lengths[2] = 0.5
	opts := testOptions(t)
	e := New(r, j, nil, opts)

	req := request(t, "short", 10, zoom("z", 2, 5))
	job := e.NewJob(req)
	_, err := e.Run(context.Background(), job)
	require.Error(t, err)

	assert.ErrorIs(t, err, errs.ErrAssembly)
	assert.False(t, errors.Is(err, errs.ErrRender))
	var e2 *errs.Error
	require.True(t, errors.As(err, &e2))
	assert.Equal(t, []int{1, 2}, e2.Segments)
	assert.Equal(t, []media.Range{{Start: 2, End: 2.5}, {Start: 5, End: 10}}, e2.Ranges)
	assert.Contains(t, err.Error(), "gap of 2.500000s before unit 2")

	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, 0, j.calls)
	assert.NoFileExists(t, req.Output)
	assertWorkDirEmpty(t, opts.WorkDir)
}

func TestLongLastUnitFailsAssembly(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.lengths[5] = 6
	e := New(r, j, nil, testOptions(t))

	_, err := e.Run(context.Background(), e.NewJob(request(t, "long", 10, zoom("z", 2, 5))))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAssembly)
	var e2 *errs.Error
	require.True(t, errors.As(err, &e2))
	assert.Equal(t, []int{2}, e2.Segments)
	assert.Contains(t, err.Error(), "units end at 11.000000, timeline duration is 10.000000")
}

func TestMeasuredLengthsWithinTolerance(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	// One frame short at 30fps, as ffmpeg reports the last packet time.
	r.lengths[0] = 2 - 1.0/30
	r.lengths[5] = 5 - 1.0/30
	e := New(r, j, nil, testOptions(t))

	out, err := e.Run(context.Background(), e.NewJob(request(t, "frame", 10, zoom("z", 2, 5))))
	require.NoError(t, err)
	assert.InDelta(t, 10-2.0/30, out.Duration, 1e-9)
}

func TestRetimedUnitIsMeasuredInSourceTime(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	e := New(r, j, nil, testOptions(t))

	speed := effect.New("s", 2, 6, effect.Speed{Factor: 2})
	out, err := e.Run(context.Background(), e.NewJob(request(t, "speed", 10, speed)))
	require.NoError(t, err)
	// [2,6) at 2x writes 2s of output.
	assert.InDelta(t, 8.0, out.Duration, 1e-9)
}

func TestUnreportedLengthFallsBackToPlan(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.silent = true
	e := New(r, j, nil, testOptions(t))

	out, err := e.Run(context.Background(), e.NewJob(request(t, "silent", 10, zoom("z", 2, 5))))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, out.Duration, 1e-9)
}

func TestFailedUnitStopsLaterUnits(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.failures[0] = 10
	opts := testOptions(t)
	opts.Workers = 1
	e := New(r, j, nil, opts)

	_, err := e.Run(context.Background(), e.NewJob(request(t, "stop", 10, zoom("z", 2, 5))))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAssembly)
	assert.Equal(t, 3, r.callsAt(0))
	assert.Equal(t, 0, r.callsAt(2))
	assert.Equal(t, 0, r.callsAt(5))
}

func TestInvalidAddressIsNotRetried(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.err = fmt.Errorf("%w: source.mp4", ffmpeg.ErrInvalidInput)
	e := New(r, j, nil, testOptions(t))

	_, err := e.Run(context.Background(), e.NewJob(request(t, "addr", 4)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ffmpeg.ErrInvalidInput)
	assert.Equal(t, 1, r.callsAt(0))
}

func TestUnitTimeoutIsRetriedThenFails(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.delay[2] = time.Second
	opts := testOptions(t)
	opts.Retry.Attempts = 2
	opts.RenderTimeout = TimeoutPolicy{Base: 20 * time.Millisecond, Max: 20 * time.Millisecond}
	e := New(r, j, nil, opts)

	_, err := e.Run(context.Background(), e.NewJob(request(t, "timeout", 10, zoom("z", 2, 5))))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after 20ms")
	assert.Equal(t, 2, r.callsAt(2))
}

func TestCancellationDiscardsUnits(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	r.delay[2] = 10 * time.Second
	r.started = make(chan float64, 8)
	opts := testOptions(t)
	e := New(r, j, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for start := range r.started {
			if start == 2 {
				cancel()
				return
			}
		}
	}()

	req := request(t, "cancel", 10, zoom("z", 2, 5))
	job := e.NewJob(req)
	_, err := e.Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, 0, j.calls)
	assert.NoFileExists(t, req.Output)
	assertWorkDirEmpty(t, opts.WorkDir)
	for _, u := range job.Snapshot().Units {
		assert.Contains(t, []UnitState{UnitDiscarded, UnitPending}, u.State, "unit %d", u.Index)
	}
}

func TestOverlappingSpeedNeverReachesPlanner(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	e := New(r, j, nil, testOptions(t))

	job := e.NewJob(request(t, "overlap", 10,
		effect.New("s1", 1, 3, effect.Speed{Factor: 2}),
		effect.New("s2", 2, 4, effect.Speed{Factor: 0.5}),
	))
	_, err := e.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, StateFailed, job.State())
	assert.Nil(t, job.Plan())
	assert.Empty(t, r.done)
}

func TestAssemblyFailureRemovesOutput(t *testing.T) {
	r := newFakeRenderer()
	j := &catJoiner{err: errors.New("concat exploded")}
	e := New(r, j, nil, testOptions(t))

	req := request(t, "join", 10, zoom("z", 2, 5))
	require.NoError(t, os.WriteFile(req.Output, []byte("partial"), 0o644))
	job := e.NewJob(req)
	_, err := e.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAssembly)
	assert.NoFileExists(t, req.Output)
	assert.Equal(t, StateFailed, job.State())
}

func TestPrepareProbesSource(t *testing.T) {
	r, j := newFakeRenderer(), &catJoiner{}
	p := &fakeProber{
		info:      ffmpeg.SourceInfo{Duration: 6, Width: 1280, Height: 720, FPS: 25, HasAudio: true},
		keyframes: []float64{0, 2, 4},
	}
	e := New(r, j, p, testOptions(t))

	req := request(t, "probe", 0, zoom("z", 1, 2))
	req.Probe = nil
	job := e.NewJob(req)
	require.NoError(t, e.Prepare(context.Background(), job))

	plan := job.Plan()
	assert.Equal(t, 6.0, plan.Duration)
	assert.True(t, plan.Output.HasAudio)
	assert.Equal(t, 25.0, plan.Output.FPS)
	assert.Equal(t, []float64{0.02}, p.tolerances)

	// 2 is a keyframe, so [2,6) copies; [0,1) starts at zero.
	var strategies []timeline.Strategy
	for _, u := range plan.Units {
		strategies = append(strategies, u.Strategy)
	}
	assert.Equal(t, []timeline.Strategy{timeline.StrategyCopy, timeline.StrategyRender, timeline.StrategyCopy}, strategies)
	assert.Equal(t, StatePlanned, job.State())
}

func TestPrepareRescaleRendersEverything(t *testing.T) {
	p := &fakeProber{info: ffmpeg.SourceInfo{Duration: 4, Width: 1920, Height: 1080, FPS: 30}}
	e := New(newFakeRenderer(), &catJoiner{}, p, testOptions(t))

	req := request(t, "rescale", 0)
	req.Probe = nil
	job := e.NewJob(req)
	require.NoError(t, e.Prepare(context.Background(), job))

	units := job.Plan().Units
	require.Len(t, units, 1)
	assert.Equal(t, timeline.StrategyRender, units[0].Strategy)
	assert.Equal(t, planner.ReasonRescale, units[0].Reason)
	g, ok := job.Graph(0)
	require.True(t, ok)
	assert.Equal(t, []string{"scale"}, g.StageNames())
}

func TestPrepareOriginalResolutionKeepsSourceGeometry(t *testing.T) {
	p := &fakeProber{info: ffmpeg.SourceInfo{Duration: 4, Width: 1920, Height: 1080, FPS: 30}, keyframes: []float64{0, 2}}
	e := New(newFakeRenderer(), &catJoiner{}, p, testOptions(t))

	req := request(t, "original", 0)
	req.Spec = media.NewOutputSpec(media.ResolutionOriginal)
	req.Probe = nil
	job := e.NewJob(req)
	require.NoError(t, e.Prepare(context.Background(), job))

	plan := job.Plan()
	assert.Equal(t, 1920, plan.Output.Width)
	assert.Equal(t, 1080, plan.Output.Height)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, timeline.StrategyCopy, plan.Units[0].Strategy)
}

func TestPrepareKeyframeFailureRendersCuts(t *testing.T) {
	p := &fakeProber{
		info:   ffmpeg.SourceInfo{Duration: 10, Width: 1280, Height: 720, FPS: 30},
		keyErr: errors.New("ffprobe missing"),
	}
	e := New(newFakeRenderer(), &catJoiner{}, p, testOptions(t))

	req := request(t, "keyframes", 0, zoom("z", 2, 5))
	req.Probe = nil
	job := e.NewJob(req)
	require.NoError(t, e.Prepare(context.Background(), job))

	units := job.Plan().Units
	require.Len(t, units, 3)
	assert.Equal(t, timeline.StrategyCopy, units[0].Strategy)
	assert.Equal(t, planner.ReasonUnalignedCut, units[2].Reason)
}

func TestPrepareProbeFailureIsValidation(t *testing.T) {
	p := &fakeProber{err: errors.New("no such file")}
	e := New(newFakeRenderer(), &catJoiner{}, p, testOptions(t))

	job := e.NewJob(request(t, "missing", 0))
	err := e.Prepare(context.Background(), job)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, StateFailed, job.State())
}

func TestJobCannotRunTwice(t *testing.T) {
	e := New(newFakeRenderer(), &catJoiner{}, nil, testOptions(t))
	job := e.NewJob(request(t, "twice", 4))
	_, err := e.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Error(t, e.Prepare(context.Background(), job))
	_, err = e.Execute(context.Background(), job)
	assert.Error(t, err)
	assert.Equal(t, StateDone, job.State())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Attempts: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))

	assert.Equal(t, 1, RetryPolicy{}.attempts())
}

func TestTimeoutPolicy(t *testing.T) {
	tests := []struct {
		policy   TimeoutPolicy
		duration float64
		want     time.Duration
	}{
		{DefaultCopyTimeout(), 10, 40 * time.Second},
		{DefaultCopyTimeout(), 1000, 300 * time.Second},
		{DefaultRenderTimeout(), 3, 144 * time.Second},
		{DefaultRenderTimeout(), 1000, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.policy.For(tt.duration))
	}
}
