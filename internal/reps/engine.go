// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reps

import (
	"log"

	"github.com/relabs-tech/rep_counter/internal/imu"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

// TickResult is what one Tick did.
type TickResult struct {
	Calibrating         bool
	CalibrationComplete bool

	Accel imu.Vec3 // conditioned
	Phase Phase
	Reps  int

	Failed        bool
	FailureRaised bool

	Transition    Transition
	HasTransition bool

	Emitted bool
}

// Engine owns all rep counting state. It is driven by a single goroutine
// calling Tick; it is not safe for concurrent use.
type Engine struct {
	params Params

	cal     *Calibrator
	det     *Detector
	hist    *History
	failure *FailureClassifier
	emitter *Emitter

	// every concentric duration of the set; hist only keeps the latest
	durations []uint64
}

// NewEngine builds an engine. ch may be nil.
func NewEngine(p Params, ch Channel) *Engine {
	return &Engine{
		params:  p,
		cal:     NewCalibrator(p.CalibrationWindow),
		det:     NewDetector(p.DirectionThreshold),
		hist:    NewHistory(p.HistoryCapacity),
		failure: NewFailureClassifier(p.FailureMultiplier, p.MinHistory),
		emitter: NewEmitter(ch),
	}
}

// Tick runs the full pipeline for one sample.
func (e *Engine) Tick(s imu.Sample) TickResult {
	var res TickResult

	gated, completed := e.cal.Observe(s)
	if gated {
		res.Calibrating = true
		return res
	}
	if completed {
		off := e.cal.Offset()
		log.Printf("calibration: complete after %d samples, offset X=%.3f Y=%.3f Z=%.3f",
			e.cal.Samples(), off.X, off.Y, off.Z)
		res.CalibrationComplete = true
	}

	res.Accel = Condition(s, e.cal.Offset(), e.params.DeadZone)

	if tr, ok := e.det.Update(s.Gyro.Z, s.Timestamp); ok {
		res.Transition, res.HasTransition = tr, true
		if tr.To == PhaseEccentric {
			e.hist.Add(tr.Duration)
			e.durations = append(e.durations, tr.Duration)
		}
		e.failure.Reset()
	}

	if e.det.Phase() == PhaseConcentric {
		res.FailureRaised = e.failure.Evaluate(PhaseConcentric, e.det.ConcentricElapsed(s.Timestamp), e.hist)
	}

	res.Phase = e.det.Phase()
	res.Reps = e.det.Reps()
	res.Failed = e.failure.Failed()
	res.Emitted = e.emitter.Observe(res.Phase, res.Failed, res.Reps)
	return res
}

// Calibrated reports whether the calibration window has closed.
func (e *Engine) Calibrated() bool { return e.cal.Done() }

// Offset returns the accelerometer bias.
func (e *Engine) Offset() Offset { return e.cal.Offset() }

// Phase returns the current phase.
func (e *Engine) Phase() Phase { return e.det.Phase() }

// Reps returns completed repetitions.
func (e *Engine) Reps() int { return e.det.Reps() }

// Failed reports whether the current concentric phase is flagged.
func (e *Engine) Failed() bool { return e.failure.Failed() }

// Median returns the running median concentric duration in ms.
func (e *Engine) Median() float64 { return e.hist.Median() }

// History exposes the duration tracker for reporting.
func (e *Engine) History() *History { return e.hist }

// EventsSent returns how many events went to the channel.
func (e *Engine) EventsSent() int { return e.emitter.Sent() }

// Summary reports the whole set so far.
func (e *Engine) Summary() Summary {
	return Summarize(e.det.Reps(), e.failure.Total(), e.durations)
}

// SetEnd builds the setEnd event for the set so far.
func (e *Engine) SetEnd() telemetry.Event {
	sum := e.Summary()
	return telemetry.NewSetEnd(StateName(e.det.Phase(), e.failure.Failed()), sum.Wire(), sum.Tip())
}
