// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"math"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

// ErrNoSample is returned by sources that have not produced a reading yet.
var ErrNoSample = errors.New("imu: no sample available")

// Vec3 is a 3-axis reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample represents a single accelerometer + gyroscope reading.
type Sample struct {
	Accel Vec3 `json:"accel"` // m/s²
	Gyro  Vec3 `json:"gyro"`  // rad/s

	Timestamp int64 `json:"ts"` // monotonic milliseconds
}

// Source is anything that can provide samples, one per tick.
// Real sensor, serial stream, mock.
type Source interface {
	Read() (Sample, error)
}

// AccelLSBPerG returns the accelerometer sensitivity for a full-scale
// range selector (0=±2g, 1=±4g, 2=±8g, 3=±16g).
func AccelLSBPerG(rangeSel byte) float64 {
	return 16384.0 / float64(uint(1)<<rangeSel)
}

// GyroLSBPerDPS returns the gyroscope sensitivity for a full-scale
// range selector (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s).
func GyroLSBPerDPS(rangeSel byte) float64 {
	return 131.0 / float64(uint(1)<<rangeSel)
}

// AccelFromCounts converts raw accelerometer counts to m/s².
func AccelFromCounts(raw int16, rangeSel byte) float64 {
	return float64(raw) / AccelLSBPerG(rangeSel) * StandardGravity
}

// GyroFromCounts converts raw gyroscope counts to rad/s.
func GyroFromCounts(raw int16, rangeSel byte) float64 {
	return float64(raw) / GyroLSBPerDPS(rangeSel) * math.Pi / 180.0
}
