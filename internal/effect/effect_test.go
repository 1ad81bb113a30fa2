// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package effect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/smarttimeline/internal/errs"
)

func TestNewTakesKindFromParams(t *testing.T) {
	in := New("z1", 2, 5, Zoom{Factor: 1.2, AnchorX: 0.5, AnchorY: 0.5})
	assert.Equal(t, KindZoom, in.Kind)
	assert.Equal(t, 3.0, in.Range().Duration())
	require.NoError(t, in.Check())
	assert.Equal(t, "zoom[2.000,5.000)", in.String())
}

func TestCheck(t *testing.T) {
	cases := map[string]Instruction{
		"unknown kind":    {ID: "a", Kind: "blur", Start: 0, End: 1, Params: Speed{Factor: 2}},
		"missing params":  {ID: "b", Kind: KindSpeed, Start: 0, End: 1},
		"mismatched kind": {ID: "c", Kind: KindCaption, Start: 0, End: 1, Params: Speed{Factor: 2}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			err := in.Check()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrValidation))
		})
	}
}

func TestKindsFollowPipelineOrder(t *testing.T) {
	assert.Equal(t, []Kind{KindZoom, KindSpeed, KindColorGrade, KindCaption, KindWatermark}, Kinds)
	for _, k := range Kinds {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("blur").Valid())
}
