// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides a simple logging interface
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
	// With returns a child logger that adds key=value to every entry.
	With(key string, value interface{}) Logger
}

// Config selects level and output format.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // console or json
	Output io.Writer // defaults to stderr
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New returns an info-level console logger tagged with component=prefix.
func New(prefix string) Logger {
	return NewWithConfig(prefix, Config{})
}

// NewWithConfig builds a logger from cfg.
func NewWithConfig(prefix string, cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if prefix != "" {
		ctx = ctx.Str("component", prefix)
	}
	return &zeroLogger{zl: ctx.Logger()}
}

// Nop discards everything.
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func (l *zeroLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msg(sprintf(format, args))
}

func (l *zeroLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msg(sprintf(format, args))
}

func (l *zeroLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msg(sprintf(format, args))
}

func (l *zeroLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msg(sprintf(format, args))
}

func (l *zeroLogger) With(key string, value interface{}) Logger {
	return &zeroLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func sprintf(format string, args []interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
