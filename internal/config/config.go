package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/rep_counter/internal/reps"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDCounter string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string

	// Topics
	TopicSensorData string
	TopicStatus     string

	// Telemetry sinks: any of "mqtt", "websocket", "display", "log"
	Telemetry []string
	WSURL     string

	// IMU source: "mpu9250", "serial" or "mock"
	IMUSource string

	// MPU9250 over SPI
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial IMU (ESP8266 + MPU6050 line stream)
	SerialPort     string
	SerialBaudRate int

	// Timing
	SampleInterval    int // milliseconds
	CalibrationWindow int // milliseconds

	// Rep detection policy
	DirectionThreshold float64 // rad/s
	DeadZone           float64 // m/s²
	FailureMultiplier  float64
	HistoryCapacity    int
	MinHistory         int

	// Servers
	MetricsAddr   string // "" disables the counter's metrics endpoint
	WebServerPort int

	// Display
	DisplayI2CBus string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages go through InitGlobal/Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	p := reps.DefaultParams()
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDCounter: "repcounter-device",
		MQTTClientIDConsole: "repcounter-console",
		MQTTClientIDWeb:     "repcounter-web",

		TopicSensorData: "repcounter/sensorData",
		TopicStatus:     "repcounter/status",

		Telemetry: []string{"mqtt"},
		WSURL:     "ws://localhost:8080/ws/device",

		IMUSource:    "mpu9250",
		IMUSPIDevice: "/dev/spidev0.0",
		IMUCSPin:     "8",

		SerialPort:     "/dev/ttyUSB0",
		SerialBaudRate: 115200,

		SampleInterval:    20,
		CalibrationWindow: int(p.CalibrationWindow.Milliseconds()),

		DirectionThreshold: p.DirectionThreshold,
		DeadZone:           p.DeadZone,
		FailureMultiplier:  p.FailureMultiplier,
		HistoryCapacity:    p.HistoryCapacity,
		MinHistory:         p.MinHistory,

		MetricsAddr:   ":9100",
		WebServerPort: 8080,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_COUNTER":
		c.MQTTClientIDCounter = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_SENSOR_DATA":
		c.TopicSensorData = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// Telemetry
	case "TELEMETRY":
		c.Telemetry = nil
		for _, s := range strings.Split(value, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			switch s {
			case "mqtt", "websocket", "display", "log":
			default:
				return fmt.Errorf("TELEMETRY: unknown sink %q (want mqtt, websocket, display, log)", s)
			}
			c.Telemetry = append(c.Telemetry, s)
		}
	case "WS_URL":
		c.WSURL = value

	// IMU
	case "IMU_SOURCE":
		switch value {
		case "mpu9250", "serial", "mock":
			c.IMUSource = value
		default:
			return fmt.Errorf("IMU_SOURCE must be mpu9250, serial or mock, got %q", value)
		}
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	// Timing
	case "SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.SampleInterval = interval
	case "CALIBRATION_WINDOW":
		window, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_WINDOW %q: %w", value, err)
		}
		c.CalibrationWindow = window

	// Rep detection
	case "DIRECTION_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid DIRECTION_THRESHOLD %q: %w", value, err)
		}
		c.DirectionThreshold = v
	case "DEAD_ZONE":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid DEAD_ZONE %q: %w", value, err)
		}
		c.DeadZone = v
	case "FAILURE_MULTIPLIER":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FAILURE_MULTIPLIER %q: %w", value, err)
		}
		c.FailureMultiplier = v
	case "HISTORY_CAPACITY":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HISTORY_CAPACITY %q: %w", value, err)
		}
		c.HistoryCapacity = v
	case "MIN_HISTORY":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MIN_HISTORY %q: %w", value, err)
		}
		c.MinHistory = v

	// Servers
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that required fields are set and the policy is usable.
func (c *Config) validate() error {
	if c.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive")
	}
	if c.HasSink("mqtt") && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for mqtt telemetry")
	}
	if c.HasSink("websocket") && c.WSURL == "" {
		return fmt.Errorf("WS_URL is required for websocket telemetry")
	}
	switch c.IMUSource {
	case "mpu9250":
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required")
		}
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required")
		}
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("rep detection: %w", err)
	}
	return nil
}

// Params maps the policy keys onto engine parameters.
func (c *Config) Params() reps.Params {
	return reps.Params{
		CalibrationWindow:  time.Duration(c.CalibrationWindow) * time.Millisecond,
		DeadZone:           c.DeadZone,
		DirectionThreshold: c.DirectionThreshold,
		FailureMultiplier:  c.FailureMultiplier,
		HistoryCapacity:    c.HistoryCapacity,
		MinHistory:         c.MinHistory,
	}
}

// HasSink reports whether a telemetry sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Telemetry {
		if s == name {
			return true
		}
	}
	return false
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
