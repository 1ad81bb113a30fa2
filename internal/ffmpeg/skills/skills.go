// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package skills detects which filters and encoders the local ffmpeg
// build provides.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// RequiredFilters are the filters compiled segment graphs may use.
var RequiredFilters = []string{
	"scale", "setsar", "crop", "setpts", "atempo", "eq", "unsharp", "vibrance",
	"lut3d", "drawtext", "overlay", "format", "colorchannelmixer", "null", "anull",
}

// RequiredEncoders are the encoders render units are produced with.
var RequiredEncoders = []string{"libx264", "aac"}

// Library represents a linked av library
type Library struct {
	Name     string `json:"name"`
	Compiled string `json:"compiled"`
	Linked   string `json:"linked"`
}

// Info is the parsed -version banner.
type Info struct {
	Version       string    `json:"version"`
	Compiler      string    `json:"compiler"`
	Configuration string    `json:"configuration"`
	Libraries     []Library `json:"libraries"`
}

// Encoder is one line of -encoders.
type Encoder struct {
	ID   string `json:"id"`
	Type string `json:"type"` // V, A or S
	Name string `json:"name"`
}

// Skills are the detected capabilities of FFmpeg
type Skills struct {
	FFmpeg   Info      `json:"ffmpeg"`
	Filters  []string  `json:"filters"`
	Encoders []Encoder `json:"encoders"`
}

// New returns the skills of binary.
func New(binary string) (Skills, error) {
	c := Skills{}

	out, err := run(binary, "-version")
	if err != nil {
		return Skills{}, fmt.Errorf("can't parse ffmpeg version: %w", err)
	}
	c.FFmpeg = parseVersion(out)
	if c.FFmpeg.Version == "" {
		return Skills{}, fmt.Errorf("can't parse ffmpeg version")
	}

	out, _ = run(binary, "-filters")
	c.Filters = parseFilters(out)

	out, _ = run(binary, "-encoders")
	c.Encoders = parseEncoders(out)

	return c, nil
}

// HasFilter reports whether the build has filter id.
func (s Skills) HasFilter(id string) bool {
	i := sort.SearchStrings(s.Filters, id)
	return i < len(s.Filters) && s.Filters[i] == id
}

// HasEncoder reports whether the build has encoder id.
func (s Skills) HasEncoder(id string) bool {
	for _, e := range s.Encoders {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Missing lists required filters and encoders the build lacks.
func (s Skills) Missing() []string {
	var out []string
	for _, f := range RequiredFilters {
		if !s.HasFilter(f) {
			out = append(out, "filter "+f)
		}
	}
	for _, e := range RequiredEncoders {
		if !s.HasEncoder(e) {
			out = append(out, "encoder "+e)
		}
	}
	return out
}

func run(binary string, arg string) ([]byte, error) {
	cmd := exec.Command(binary, "-hide_banner", arg)
	if arg == "-version" {
		cmd = exec.Command(binary, arg)
	}
	cmd.Env = []string{}
	return cmd.CombinedOutput()
}

var (
	reVersion       = regexp.MustCompile(`^ffmpeg version (?:n)?([0-9]+\.[0-9]+(\.[0-9]+)?)`)
	reCompiler      = regexp.MustCompile(`(?m)^\s*built with (.*)$`)
	reConfiguration = regexp.MustCompile(`(?m)^\s*configuration: (.*)$`)
	reLibrary       = regexp.MustCompile(`(?m)^\s*(lib(?:[a-z]+))\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+) /\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+)`)
	reFilter        = regexp.MustCompile(`^\s[TSC.]{3} ([0-9A-Za-z_]+)\s+\S+\s+.*$`)
	reEncoder       = regexp.MustCompile(`^\s([VAS])[F.][S.][X.][B.][D.]\s+([0-9A-Za-z_\-]+)\s+(.*)$`)
)

func parseVersion(data []byte) Info {
	f := Info{}
	if m := reVersion.FindSubmatch(data); m != nil {
		f.Version = string(m[1])
		if len(m[2]) == 0 {
			f.Version += ".0"
		}
	}
	if m := reCompiler.FindSubmatch(data); m != nil {
		f.Compiler = string(m[1])
	}
	if m := reConfiguration.FindSubmatch(data); m != nil {
		f.Configuration = string(m[1])
	}
	for _, m := range reLibrary.FindAllSubmatch(data, -1) {
		f.Libraries = append(f.Libraries, Library{
			Name:     string(m[1]),
			Compiled: string(m[2]),
			Linked:   string(m[3]),
		})
	}
	return f
}

func parseFilters(data []byte) []string {
	var filters []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := reFilter.FindStringSubmatch(scanner.Text()); m != nil {
			filters = append(filters, m[1])
		}
	}
	sort.Strings(filters)
	return filters
}

func parseEncoders(data []byte) []Encoder {
	var encoders []Encoder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := reEncoder.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		encoders = append(encoders, Encoder{ID: m[2], Type: m[1], Name: strings.TrimSpace(m[3])})
	}
	return encoders
}
