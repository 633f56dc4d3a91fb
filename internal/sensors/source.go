package sensors

import (
	"fmt"

	"github.com/relabs-tech/rep_counter/internal/config"
	"github.com/relabs-tech/rep_counter/internal/imu"
)

// NewSource opens the sensor selected by IMU_SOURCE.
func NewSource(cfg *config.Config) (imu.Source, error) {
	switch cfg.IMUSource {
	case "mpu9250":
		return NewMPU9250Source(cfg)
	case "serial":
		return NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate)
	case "mock":
		return NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unknown IMU source %q", cfg.IMUSource)
	}
}
