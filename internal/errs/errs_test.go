// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ZSC714725/smarttimeline/internal/media"
)

func TestErrorIsMatchesCategory(t *testing.T) {
	err := fmt.Errorf("job: %w", Render(2, media.Range{Start: 1, End: 3}, errors.New("exit status 1")))

	assert.True(t, errors.Is(err, ErrRender))
	assert.False(t, errors.Is(err, ErrAssembly))
	assert.True(t, Retryable(err))
	assert.Equal(t, CategoryRender, CategoryOf(err))
	assert.Contains(t, err.Error(), "segment 2 [1.000,3.000)")
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestNonRenderErrorsAreNotRetryable(t *testing.T) {
	assert.False(t, Retryable(Validation("bad")))
	assert.False(t, Retryable(Composition(0, media.Range{End: 1}, "bad")))
	assert.False(t, Retryable(errors.New("plain")))
	assert.Equal(t, Category(""), CategoryOf(errors.New("plain")))
}

func TestAssemblyMessageListsSegments(t *testing.T) {
	err := Assembly([]int{3, 4}, []media.Range{{Start: 3, End: 4}, {Start: 4.2, End: 5}}, "gap of %.3fs", 0.2)
	assert.Equal(t, "assembly error: gap of 0.200s (segment 3 [3.000,4.000), segment 4 [4.200,5.000))", err.Error())
}
