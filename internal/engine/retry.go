// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// SmartTimeline - FFmpeg 智能时间线渲染引擎

package engine

import (
	"math"
	"time"
)

// RetryPolicy bounds per-unit retries of render and copy operations.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy is 3 attempts, 1s initial delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

// Delay returns the wait before attempt+1, given attempt failed (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// TimeoutPolicy scales a unit's timeout with its source duration:
// min(Base + duration*PerSecond, Max).
type TimeoutPolicy struct {
	Base      time.Duration
	PerSecond float64
	Max       time.Duration
}

// DefaultCopyTimeout is min(dur+30s, 300s).
func DefaultCopyTimeout() TimeoutPolicy {
	return TimeoutPolicy{Base: 30 * time.Second, PerSecond: 1, Max: 300 * time.Second}
}

// DefaultRenderTimeout is min(dur*8+120s, 3600s).
func DefaultRenderTimeout() TimeoutPolicy {
	return TimeoutPolicy{Base: 120 * time.Second, PerSecond: 8, Max: time.Hour}
}

// For returns the timeout for a unit of duration seconds. Zero means none.
func (p TimeoutPolicy) For(duration float64) time.Duration {
	d := p.Base + time.Duration(duration*p.PerSecond*float64(time.Second))
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
