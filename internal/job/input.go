// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package job

import (
	"encoding/json"

	"github.com/ZSC714725/smarttimeline/internal/editmap"
	"github.com/ZSC714725/smarttimeline/internal/effect"
	"github.com/ZSC714725/smarttimeline/internal/errs"
	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Input is a render job submission.
type Input struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Source    string `json:"source"`
	Output    string `json:"output"`
	// Duration of the source in seconds; probed when zero.
	Duration   float64          `json:"duration,omitempty"`
	Resolution media.Resolution `json:"resolution"`
	EditMap    json.RawMessage  `json:"editMap"`
}

// Instructions decodes the edit map and lowers it for a source of the
// given duration. A missing watermark entry takes def when def names an
// image.
func (in *Input) Instructions(duration float64, def *editmap.Watermark) ([]effect.Instruction, error) {
	doc := &editmap.Document{}
	if len(in.EditMap) > 0 && string(in.EditMap) != "null" {
		var err error
		if doc, err = editmap.Parse(in.EditMap); err != nil {
			return nil, err
		}
	}
	if doc.Watermark == nil && def != nil && def.Image != "" {
		wm := *def
		doc.Watermark = &wm
	}
	if duration <= 0 {
		return nil, errs.Validation("source duration is unknown")
	}
	return doc.Instructions(duration)
}
