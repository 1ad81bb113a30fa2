// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const versionOut = `ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers
built with gcc 13 (Ubuntu 13.2.0-23ubuntu3)
configuration: --prefix=/usr --enable-libx264 --enable-libfreetype
libavutil      58. 29.100 / 58. 29.100
libavcodec     60. 31.102 / 60. 31.102
`

const filtersOut = `Filters:
  T.. = Timeline support
  .S. = Slice threading
 ... abuffer           |->A       Buffer audio frames, and make them accessible to the filterchain.
 TSC scale             V->V       Scale the input video size and/or convert the image format.
 T.C overlay           VV->V      Overlay a video source on top of the input.
 ..C atempo            A->A       Adjust audio tempo.
`

const encodersOut = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseVersion(t *testing.T) {
	info := parseVersion([]byte(versionOut))
	assert.Equal(t, "6.1.1", info.Version)
	assert.Equal(t, "gcc 13 (Ubuntu 13.2.0-23ubuntu3)", info.Compiler)
	assert.Contains(t, info.Configuration, "--enable-libx264")
	require.Len(t, info.Libraries, 2)
	assert.Equal(t, Library{Name: "libavutil", Compiled: "58. 29.100", Linked: "58. 29.100"}, info.Libraries[0])
}

func TestParseFiltersAndEncoders(t *testing.T) {
	s := Skills{
		Filters:  parseFilters([]byte(filtersOut)),
		Encoders: parseEncoders([]byte(encodersOut)),
	}
	assert.Equal(t, []string{"abuffer", "atempo", "overlay", "scale"}, s.Filters)
	assert.True(t, s.HasFilter("scale"))
	assert.False(t, s.HasFilter("drawtext"))

	require.Len(t, s.Encoders, 2)
	assert.Equal(t, Encoder{ID: "libx264", Type: "V", Name: "libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)"}, s.Encoders[0])
	assert.True(t, s.HasEncoder("aac"))

	missing := s.Missing()
	assert.Contains(t, missing, "filter drawtext")
	assert.NotContains(t, missing, "filter scale")
	assert.NotContains(t, missing, "encoder libx264")
}
