// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/relabs-tech/rep_counter/internal/config"
	"github.com/relabs-tech/rep_counter/internal/imu"
	"github.com/relabs-tech/rep_counter/internal/metrics"
	"github.com/relabs-tech/rep_counter/internal/reps"
	"github.com/relabs-tech/rep_counter/internal/sensors"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

const displayRefresh = 100 * time.Millisecond

// RunMockProducer publishes a simulated set to the broker using default
// settings. It needs no config file or hardware.
func RunMockProducer(ctx context.Context, broker string) error {
	cfg := config.Default()
	cfg.MQTTBroker = broker
	cfg.MQTTClientIDCounter = "repcounter-producer-mock"
	cfg.IMUSource = "mock"
	cfg.Telemetry = []string{"mqtt", "log"}
	cfg.MetricsAddr = ""
	return runCounter(ctx, cfg)
}

// RunCounter samples the IMU and counts reps until ctx is cancelled.
// A sensor that cannot be initialized is fatal; failed reads are not.
func RunCounter(ctx context.Context) error {
	return runCounter(ctx, config.Get())
}

func runCounter(ctx context.Context, cfg *config.Config) error {
	log.Printf("starting rep counter (imu=%s, telemetry=%s)", cfg.IMUSource, strings.Join(cfg.Telemetry, ","))

	src, err := sensors.NewSource(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize IMU: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	sinks, closeSinks := openSinks(ctx, cfg)
	defer closeSinks()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
	}

	var ch reps.Channel
	if sinks.Len() > 0 {
		ch = sinks
	}
	eng := reps.NewEngine(cfg.Params(), ch)

	log.Printf("counter: calibrating for %dms, keep the sensor still", cfg.CalibrationWindow)
	runLoop(ctx, src, eng, time.Duration(cfg.SampleInterval)*time.Millisecond)

	end := eng.SetEnd()
	log.Printf("counter: set summary: %s", eng.Summary())
	log.Printf("counter: tip: %s", end.Tip)
	if sinks.Len() > 0 {
		sinks.Send(end)
	}
	return nil
}

// openSinks builds the configured telemetry sinks. A display that cannot be
// opened is logged and skipped. Sinks outlive ctx so the setEnd event can go
// out after the loop stops; the returned func closes them.
func openSinks(ctx context.Context, cfg *config.Config) (*telemetry.Multi, func()) {
	sinks := telemetry.NewMulti()
	var closers []func()

	for _, name := range cfg.Telemetry {
		switch name {
		case "mqtt":
			ch := telemetry.NewMQTTChannel(telemetry.MQTTOptions{
				Broker:      cfg.MQTTBroker,
				ClientID:    cfg.MQTTClientIDCounter,
				Topic:       cfg.TopicSensorData,
				StatusTopic: cfg.TopicStatus,
			})
			ch.Connect()
			sinks.Add(ch)
			closers = append(closers, ch.Close)

		case "websocket":
			ch := telemetry.NewWSChannel(cfg.WSURL, telemetry.DefaultWSOptions())
			ch.Start(context.WithoutCancel(ctx))
			sinks.Add(ch)
			closers = append(closers, ch.Close)

		case "display":
			d, err := telemetry.OpenDisplay(cfg.DisplayI2CBus, displayRefresh)
			if err != nil {
				log.Printf("counter: WARNING: display unavailable: %v", err)
				continue
			}
			sinks.Add(d)
			closers = append(closers, d.Close)

		case "log":
			sinks.Add(telemetry.Log{})
		}
	}

	return sinks, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// runLoop ticks the engine at a fixed rate. It returns when ctx is done.
func runLoop(ctx context.Context, src imu.Source, eng *reps.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	readErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s, err := src.Read()
		if err != nil {
			metrics.SensorErrors.Inc()
			readErrors++
			// a dead stream fails every tick
			if !errors.Is(err, imu.ErrNoSample) && (readErrors == 1 || readErrors%500 == 0) {
				log.Printf("counter: error reading IMU (%d consecutive): %v", readErrors, err)
			}
			continue
		}
		readErrors = 0

		res := eng.Tick(s)
		if res.CalibrationComplete {
			metrics.ObserveCalibration(eng.Offset())
		}
		metrics.ObserveTick(res, eng.Median())

		if res.HasTransition {
			tr := res.Transition
			switch {
			case tr.RepCompleted():
				log.Printf("counter: rep %d complete", res.Reps)
			case tr.To == reps.PhaseEccentric:
				log.Printf("counter: concentric %dms (median %.0fms)", tr.Duration, eng.Median())
			}
		}
	}
}
