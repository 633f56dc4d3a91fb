// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rep_counter/internal/config"
	"github.com/relabs-tech/rep_counter/internal/imu"
)

type mpu9250Source struct {
	dev        *mpu9250.MPU9250
	accelRange byte
	gyroRange  byte
	start      time.Time
}

// NewMPU9250Source initializes an MPU9250 over SPI. Any failure here is
// fatal for the caller: the tick loop must not start without a sensor.
func NewMPU9250Source(cfg *config.Config) (imu.Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", cfg.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", cfg.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	if err := dev.SetAccelRange(cfg.IMUAccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	log.Printf("mpu9250: accelerometer range set to %d (±%dg)", cfg.IMUAccelRange, []int{2, 4, 8, 16}[cfg.IMUAccelRange])

	if err := dev.SetGyroRange(cfg.IMUGyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("mpu9250: gyroscope range set to %d (±%d°/s)", cfg.IMUGyroRange, []int{250, 500, 1000, 2000}[cfg.IMUGyroRange])

	// Self-test failures are not fatal; the rep counter only needs gyro Z.
	testResult, err := dev.SelfTest()
	if err != nil {
		log.Printf("mpu9250: WARNING: self-test failed: %v", err)
	} else {
		log.Printf("mpu9250: self-test passed")
		log.Printf("  Accelerometer deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z)
		log.Printf("  Gyroscope deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	}

	return &mpu9250Source{
		dev:        dev,
		accelRange: cfg.IMUAccelRange,
		gyroRange:  cfg.IMUGyroRange,
		start:      time.Now(),
	}, nil
}

// Read reads accelerometer and gyroscope and converts to SI units.
func (s *mpu9250Source) Read() (imu.Sample, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 accel Z: %w", err)
	}

	gx, err := s.dev.GetRotationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 gyro X: %w", err)
	}
	gy, err := s.dev.GetRotationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 gyro Y: %w", err)
	}
	gz, err := s.dev.GetRotationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("mpu9250 gyro Z: %w", err)
	}

	return imu.Sample{
		Accel: imu.Vec3{
			X: imu.AccelFromCounts(ax, s.accelRange),
			Y: imu.AccelFromCounts(ay, s.accelRange),
			Z: imu.AccelFromCounts(az, s.accelRange),
		},
		Gyro: imu.Vec3{
			X: imu.GyroFromCounts(gx, s.gyroRange),
			Y: imu.GyroFromCounts(gy, s.gyroRange),
			Z: imu.GyroFromCounts(gz, s.gyroRange),
		},
		Timestamp: time.Since(s.start).Milliseconds(),
	}, nil
}
