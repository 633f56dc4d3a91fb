package reps

import (
	"math"

	"github.com/relabs-tech/rep_counter/internal/imu"
)

// Condition removes the calibration offset from the accelerometer and snaps
// residual noise inside the dead zone to exactly zero.
func Condition(s imu.Sample, offset Offset, deadZone float64) imu.Vec3 {
	return imu.Vec3{
		X: deadBand(s.Accel.X-offset.X, deadZone),
		Y: deadBand(s.Accel.Y-offset.Y, deadZone),
		Z: deadBand(s.Accel.Z-offset.Z, deadZone),
	}
}

func deadBand(v, zone float64) float64 {
	if math.Abs(v) < zone {
		return 0
	}
	return v
}
