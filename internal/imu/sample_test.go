package imu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccelFromCounts(t *testing.T) {
	// 1g at ±2g range
	require.InDelta(t, StandardGravity, AccelFromCounts(16384, 0), 1e-9)
	// 1g at ±16g range
	require.InDelta(t, StandardGravity, AccelFromCounts(2048, 3), 1e-9)
	require.InDelta(t, -StandardGravity/2, AccelFromCounts(-4096, 1), 1e-9)
}

func TestGyroFromCounts(t *testing.T) {
	// 131 counts = 1 °/s at ±250°/s
	require.InDelta(t, math.Pi/180, GyroFromCounts(131, 0), 1e-9)
	// 16.375 counts/°/s at ±2000°/s; 1637 counts ~ 99.97°/s
	require.InDelta(t, 1637/16.375*math.Pi/180, GyroFromCounts(1637, 3), 1e-9)
}
