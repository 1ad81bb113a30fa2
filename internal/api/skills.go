// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/smarttimeline/internal/ffmpeg/skills"
)

// SkillsSource exposes the detected ffmpeg capabilities.
type SkillsSource interface {
	Skills() skills.Skills
	ReloadSkills() error
}

// SkillsResponse for API
type SkillsResponse struct {
	FFmpeg   skills.Info      `json:"ffmpeg"`
	Filters  []string         `json:"filters"`
	Encoders []skills.Encoder `json:"encoders"`
	// Missing lists required filters and encoders the binary lacks.
	Missing []string `json:"missing"`
	Ready   bool     `json:"ready"`
}

func skillsToAPI(s skills.Skills) SkillsResponse {
	missing := s.Missing()
	if missing == nil {
		missing = []string{}
	}
	return SkillsResponse{
		FFmpeg:   s.FFmpeg,
		Filters:  s.Filters,
		Encoders: s.Encoders,
		Missing:  missing,
		Ready:    len(missing) == 0,
	}
}

// Skills GET /api/v1/skills
func (h *Handler) Skills(c *gin.Context) {
	if h.skills == nil {
		errResp(c, http.StatusNotFound, "Skills unavailable", "")
		return
	}
	c.JSON(http.StatusOK, skillsToAPI(h.skills.Skills()))
}

// ReloadSkills POST /api/v1/skills/reload
func (h *Handler) ReloadSkills(c *gin.Context) {
	if h.skills == nil {
		errResp(c, http.StatusNotFound, "Skills unavailable", "")
		return
	}
	if err := h.skills.ReloadSkills(); err != nil {
		errResp(c, http.StatusInternalServerError, "Reload failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, skillsToAPI(h.skills.Skills()))
}
