// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

// Package errs defines the categorized errors a render job can fail with.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZSC714725/smarttimeline/internal/media"
)

// Category classifies a job failure.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryComposition Category = "composition"
	CategoryRender      Category = "render"
	CategoryAssembly    Category = "assembly"
	CategoryCancelled   Category = "cancelled"
)

// Error is a categorized failure carrying the segment ranges it originated from.
type Error struct {
	Category Category
	Message  string
	Segments []int
	Ranges   []media.Range
	Err      error
}

// Sentinels for errors.Is; they match any *Error of the same category.
var (
	ErrValidation  = &Error{Category: CategoryValidation}
	ErrComposition = &Error{Category: CategoryComposition}
	ErrRender      = &Error{Category: CategoryRender}
	ErrAssembly    = &Error{Category: CategoryAssembly}
	ErrCancelled   = &Error{Category: CategoryCancelled}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	b.WriteString(" error")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for i, r := range e.Ranges {
		if i == 0 {
			b.WriteString(" (")
		} else {
			b.WriteString(", ")
		}
		if i < len(e.Segments) {
			fmt.Fprintf(&b, "segment %d ", e.Segments[i])
		}
		b.WriteString(r.String())
		if i == len(e.Ranges)-1 {
			b.WriteString(")")
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on category so callers can use errors.Is(err, errs.ErrRender).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Category == e.Category
}

// Validation builds a validation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Category: CategoryValidation, Message: fmt.Sprintf(format, args...)}
}

// Composition builds a composition error for one segment.
func Composition(segment int, r media.Range, format string, args ...interface{}) *Error {
	return &Error{
		Category: CategoryComposition,
		Message:  fmt.Sprintf(format, args...),
		Segments: []int{segment},
		Ranges:   []media.Range{r},
	}
}

// Render wraps a failure of the external render capability.
func Render(segment int, r media.Range, err error) *Error {
	return &Error{
		Category: CategoryRender,
		Message:  "render operation failed",
		Segments: []int{segment},
		Ranges:   []media.Range{r},
		Err:      err,
	}
}

// Assembly builds an assembly error naming the offending segments.
func Assembly(segments []int, ranges []media.Range, format string, args ...interface{}) *Error {
	return &Error{
		Category: CategoryAssembly,
		Message:  fmt.Sprintf(format, args...),
		Segments: segments,
		Ranges:   ranges,
	}
}

// Cancelled wraps a job cancellation.
func Cancelled(err error) *Error {
	return &Error{Category: CategoryCancelled, Message: "job cancelled", Err: err}
}

// CategoryOf returns the category of err, or "" when err is not an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// Retryable reports whether err may be retried at the segment level.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryRender
}
