// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"math/rand"
	"time"

	"github.com/relabs-tech/rep_counter/internal/imu"
)

// Mock set shape. Concentric phases slow down 5% per rep and every tenth
// rep is a grind at twice the pace, enough to trip failure detection.
const (
	mockStill      = 3 * time.Second
	mockConcentric = 800 * time.Millisecond
	mockEccentric  = 1000 * time.Millisecond
	mockPeakGyro   = 2.5 // rad/s
	mockNoise      = 0.05
)

type mockSource struct {
	start time.Time
	now   func() time.Time
	rng   *rand.Rand

	// rep in progress and when it started, relative to the end of the still period
	rep      int
	repStart time.Duration
}

// NewMockSource creates a mock sensor that stays still long enough to
// calibrate and then performs reps around the Z axis.
func NewMockSource() imu.Source {
	return newMockSource(time.Now)
}

func newMockSource(now func() time.Time) *mockSource {
	return &mockSource{
		start: now(),
		now:   now,
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (m *mockSource) Read() (imu.Sample, error) {
	elapsed := m.now().Sub(m.start)

	return imu.Sample{
		Accel: imu.Vec3{
			X: 0.3 + m.noise(),
			Y: -0.2 + m.noise(),
			Z: imu.StandardGravity + m.noise(),
		},
		Gyro: imu.Vec3{
			X: m.noise(),
			Y: m.noise(),
			Z: m.gyroZ(elapsed) + m.noise(),
		},
		Timestamp: elapsed.Milliseconds(),
	}, nil
}

func (m *mockSource) noise() float64 {
	return (m.rng.Float64()*2 - 1) * mockNoise
}

func mockConcentricFor(rep int) time.Duration {
	d := time.Duration(float64(mockConcentric) * (1 + 0.05*float64(rep%10)))
	if rep%10 == 9 {
		d *= 2
	}
	return d
}

// gyroZ is a half sine per phase: positive while lifting, negative while
// lowering. It walks forward from the cached rep, so a long session costs
// the same per read as a short one.
func (m *mockSource) gyroZ(elapsed time.Duration) float64 {
	t := elapsed - mockStill
	if t < 0 {
		return 0
	}
	if t < m.repStart {
		m.rep, m.repStart = 0, 0
	}
	for {
		c := mockConcentricFor(m.rep)
		off := t - m.repStart
		if off < c {
			return mockPeakGyro * math.Sin(math.Pi*float64(off)/float64(c))
		}
		off -= c
		if off < mockEccentric {
			return -mockPeakGyro * math.Sin(math.Pi*float64(off)/float64(mockEccentric))
		}
		m.repStart += c + mockEccentric
		m.rep++
	}
}
