// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/relabs-tech/rep_counter/internal/reps"
	"github.com/relabs-tech/rep_counter/internal/sensors"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

// consoleSink prints each event on its own line.
type consoleSink struct{}

func (consoleSink) Ready() bool { return true }

func (consoleSink) Send(ev telemetry.Event) {
	fmt.Printf("[%s] reps=%3d  %s\n", time.Now().Format("15:04:05.000"), ev.Reps, telemetry.Label(ev.State))
}

// RunMockConsole drives the counter from the simulated sensor and prints
// state changes. No hardware, broker or config file needed.
func RunMockConsole(ctx context.Context) error {
	src := sensors.NewMockSource()
	eng := reps.NewEngine(reps.DefaultParams(), consoleSink{})

	fmt.Println("calibrating, the simulated sensor is still for 3s")
	runLoop(ctx, src, eng, 20*time.Millisecond)

	sum := eng.Summary()
	fmt.Printf("\n%s\ntip: %s\n", sum, sum.Tip())
	return nil
}
