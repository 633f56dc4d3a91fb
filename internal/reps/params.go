// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package reps counts lifting repetitions from gyroscope Z and flags
// concentric phases that run much slower than the lifter's recent cadence.
package reps

import (
	"fmt"
	"time"
)

// Params are the tunable policy knobs of the engine.
type Params struct {
	CalibrationWindow  time.Duration // stationary window used for accel bias
	DeadZone           float64       // m/s², conditioned accel below this is 0
	DirectionThreshold float64       // rad/s, |gyroZ| must exceed this to count as motion
	FailureMultiplier  float64       // concentric slower than median*multiplier is failure
	HistoryCapacity    int           // concentric durations kept for the median
	MinHistory         int           // durations required before failure detection runs
}

// DefaultParams returns the values the device was tuned with.
func DefaultParams() Params {
	return Params{
		CalibrationWindow:  2000 * time.Millisecond,
		DeadZone:           0.5,
		DirectionThreshold: 1.5,
		FailureMultiplier:  1.5,
		HistoryCapacity:    10,
		MinHistory:         3,
	}
}

// Validate checks the params for values the engine cannot work with.
func (p Params) Validate() error {
	if p.CalibrationWindow < 0 {
		return fmt.Errorf("calibration window must not be negative, got %s", p.CalibrationWindow)
	}
	if p.DeadZone < 0 {
		return fmt.Errorf("dead zone must not be negative, got %g", p.DeadZone)
	}
	if p.DirectionThreshold <= 0 {
		return fmt.Errorf("direction threshold must be positive, got %g", p.DirectionThreshold)
	}
	if p.FailureMultiplier <= 0 {
		return fmt.Errorf("failure multiplier must be positive, got %g", p.FailureMultiplier)
	}
	if p.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be at least 1, got %d", p.HistoryCapacity)
	}
	if p.MinHistory < 1 || p.MinHistory > p.HistoryCapacity {
		return fmt.Errorf("min history must be 1-%d, got %d", p.HistoryCapacity, p.MinHistory)
	}
	return nil
}
