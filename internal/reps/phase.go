// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reps

import "github.com/relabs-tech/rep_counter/internal/telemetry"

// Phase of a lifting repetition.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseConcentric
	PhaseEccentric
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return telemetry.StateWaiting
	case PhaseConcentric:
		return telemetry.StateConcentric
	case PhaseEccentric:
		return telemetry.StateEccentric
	default:
		return "unknown"
	}
}

// NextPhase decides the phase after one gyroZ reading. For a transition out
// of PhaseWaiting the returned direction is the sign of gz; otherwise it is
// concentricPositive unchanged. Values inside [-threshold, threshold] never
// cause a transition.
func NextPhase(current Phase, concentricPositive bool, gz, threshold float64) (Phase, bool) {
	up := gz > threshold
	down := gz < -threshold

	switch current {
	case PhaseWaiting:
		if up || down {
			return PhaseConcentric, up
		}
	case PhaseConcentric:
		if (concentricPositive && down) || (!concentricPositive && up) {
			return PhaseEccentric, concentricPositive
		}
	case PhaseEccentric:
		if (concentricPositive && up) || (!concentricPositive && down) {
			return PhaseConcentric, concentricPositive
		}
	}
	return current, concentricPositive
}

// Transition describes a phase change that happened on a tick.
type Transition struct {
	From, To Phase
	// Duration of the concentric phase that just ended, in ms.
	// Only set for CONCENTRIC → ECCENTRIC.
	Duration uint64
}

// RepCompleted reports whether this transition closes a repetition.
func (t Transition) RepCompleted() bool {
	return t.From == PhaseEccentric && t.To == PhaseConcentric
}

// Detector is the phase state machine over gyroZ.
// Once the first rep starts it never returns to PhaseWaiting.
type Detector struct {
	threshold float64

	phase              Phase
	concentricPositive bool
	concentricStart    int64
	reps               int
}

// NewDetector returns a detector in PhaseWaiting.
func NewDetector(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

// Update advances the state machine with the gyroZ value of the sample taken
// at now (ms). It returns the transition, if any.
func (d *Detector) Update(gz float64, now int64) (Transition, bool) {
	next, positive := NextPhase(d.phase, d.concentricPositive, gz, d.threshold)
	if next == d.phase {
		return Transition{}, false
	}

	tr := Transition{From: d.phase, To: next}
	switch {
	case d.phase == PhaseWaiting:
		d.concentricPositive = positive
		d.concentricStart = now
	case next == PhaseEccentric:
		tr.Duration = elapsedMs(d.concentricStart, now)
	case tr.RepCompleted():
		d.reps++
		d.concentricStart = now
	}
	d.phase = next
	return tr, true
}

// Phase returns the current phase.
func (d *Detector) Phase() Phase { return d.phase }

// Reps returns completed repetitions.
func (d *Detector) Reps() int { return d.reps }

// ConcentricPositive reports the rotation sign fixed at first motion.
func (d *Detector) ConcentricPositive() bool { return d.concentricPositive }

// ConcentricElapsed returns ms since the current concentric phase started.
func (d *Detector) ConcentricElapsed(now int64) uint64 {
	return elapsedMs(d.concentricStart, now)
}

func elapsedMs(from, to int64) uint64 {
	if to < from {
		return 0
	}
	return uint64(to - from)
}
