// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/rep_counter/internal/imu"
)

// The ESP8266 + MPU6050 sketch prints one line per reading:
//
//	Acceleration X: 0.12 || Y: -0.34 || Z: 9.81Gyroscope X: 0.01 || Y: 0.02 || Z: 0.03
//
// in m/s² and rad/s.
const num = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

var lineRe = regexp.MustCompile(
	`Acceleration X:\s*` + num + `\s*\|\|\s*Y:\s*` + num + `\s*\|\|\s*Z:\s*` + num +
		`\s*Gyroscope X:\s*` + num + `\s*\|\|\s*Y:\s*` + num + `\s*\|\|\s*Z:\s*` + num)

var errNoMatch = errors.New("not a sensor line")

// parseLine extracts accel and gyro from one line of the serial stream.
func parseLine(line string) (imu.Vec3, imu.Vec3, error) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return imu.Vec3{}, imu.Vec3{}, errNoMatch
	}
	var v [6]float64
	for i := range v {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return imu.Vec3{}, imu.Vec3{}, fmt.Errorf("field %d: %w", i, err)
		}
		v[i] = f
	}
	return imu.Vec3{X: v[0], Y: v[1], Z: v[2]}, imu.Vec3{X: v[3], Y: v[4], Z: v[5]}, nil
}

// streamSource keeps the latest reading from a line stream. Read never
// blocks on the underlying port.
type streamSource struct {
	name  string
	rc    io.ReadCloser
	start time.Time

	mu     sync.Mutex
	latest imu.Sample
	have   bool
	err    error
	done   chan struct{}
}

// NewSerialSource opens a serial port streaming the sketch's line format.
func NewSerialSource(portName string, baud int) (imu.Source, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial IMU: open %s: %w", portName, err)
	}
	log.Printf("serial IMU: port opened on %s at %d baud", portName, baud)
	return newStreamSource("serial IMU", port), nil
}

func newStreamSource(name string, rc io.ReadCloser) *streamSource {
	s := &streamSource{
		name:  name,
		rc:    rc,
		start: time.Now(),
		done:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *streamSource) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.rc)
	for scanner.Scan() {
		accel, gyro, err := parseLine(scanner.Text())
		if err != nil {
			// boot banners and partial lines are expected
			continue
		}
		s.mu.Lock()
		s.latest = imu.Sample{
			Accel:     accel,
			Gyro:      gyro,
			Timestamp: time.Since(s.start).Milliseconds(),
		}
		s.have = true
		s.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	log.Printf("%s: stream ended: %v", s.name, err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Read returns the most recent reading.
func (s *streamSource) Read() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return imu.Sample{}, fmt.Errorf("%s: %w", s.name, s.err)
	}
	if !s.have {
		return imu.Sample{}, imu.ErrNoSample
	}
	return s.latest, nil
}

// Close closes the port and waits for the reader to exit.
func (s *streamSource) Close() error {
	err := s.rc.Close()
	<-s.done
	return err
}
