// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reps

import (
	"log"
	"time"

	"github.com/relabs-tech/rep_counter/internal/imu"
)

// Offset is the static accelerometer bias removed from every sample.
type Offset = imu.Vec3

// Calibrator averages the accelerometer over a fixed window after startup.
// The window opens at the first observed sample.
type Calibrator struct {
	window int64 // ms

	started bool
	start   int64
	done    bool

	sum   imu.Vec3
	count int

	offset Offset
}

// NewCalibrator creates a calibrator for the given window.
func NewCalibrator(window time.Duration) *Calibrator {
	return &Calibrator{window: window.Milliseconds()}
}

// Observe feeds one sample. gated is true while the window is open and the
// caller must skip all downstream processing for this tick. completed is
// true exactly once, on the tick that closes the window; that tick is not
// gated.
func (c *Calibrator) Observe(s imu.Sample) (gated, completed bool) {
	if c.done {
		return false, false
	}
	if !c.started {
		c.started = true
		c.start = s.Timestamp
	}

	if s.Timestamp-c.start < c.window {
		c.sum.X += s.Accel.X
		c.sum.Y += s.Accel.Y
		c.sum.Z += s.Accel.Z
		c.count++
		return true, false
	}

	c.finish()
	return false, true
}

func (c *Calibrator) finish() {
	c.done = true
	if c.count == 0 {
		log.Printf("calibration: no samples in %dms window, running with zero offset", c.window)
		c.offset = Offset{}
		return
	}
	n := float64(c.count)
	c.offset = Offset{X: c.sum.X / n, Y: c.sum.Y / n, Z: c.sum.Z / n}
}

// Done reports whether the window has closed.
func (c *Calibrator) Done() bool { return c.done }

// Offset returns the computed bias. Zero until Done.
func (c *Calibrator) Offset() Offset { return c.offset }

// Samples returns how many samples went into the offset.
func (c *Calibrator) Samples() int { return c.count }
