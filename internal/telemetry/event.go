// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry delivers rep counter events to the outside world:
// MQTT, websocket, an OLED display or the console.
package telemetry

// Event names consumed by the frontend.
const (
	EventSensorData = "sensorData"
	EventSetEnd     = "setEnd"
)

// State values carried by an Event.
const (
	StateWaiting    = "waiting"
	StateConcentric = "concentric"
	StateEccentric  = "eccentric"
	StateFailure    = "failure"
)

// Event is the payload handed to every channel.
type Event struct {
	Event string `json:"event"` // sensorData or setEnd
	State string `json:"state"` // waiting, concentric, eccentric, failure
	Reps  int    `json:"reps"`

	// setEnd only
	Summary *SetSummary `json:"summary,omitempty"`
	Tip     string      `json:"tip,omitempty"`
}

// SetSummary is the end of set report.
type SetSummary struct {
	Reps         int     `json:"reps"`
	Failures     int     `json:"failures"`
	MedianMs     float64 `json:"median_ms"`
	MeanMs       float64 `json:"mean_ms"`
	TUTMs        uint64  `json:"tut_ms"`
	FatigueIndex float64 `json:"fatigue_index"`
	LastVsFirst  float64 `json:"last_vs_first"`
}

// NewEvent builds a sensorData event.
func NewEvent(state string, reps int) Event {
	return Event{Event: EventSensorData, State: state, Reps: reps}
}

// NewSetEnd builds the setEnd event sent when a set is over. state is the
// last state the counter was in.
func NewSetEnd(state string, s SetSummary, tip string) Event {
	return Event{Event: EventSetEnd, State: state, Reps: s.Reps, Summary: &s, Tip: tip}
}

// Valid reports whether ev is a well formed sensorData or setEnd event.
func (ev Event) Valid() bool {
	switch ev.Event {
	case EventSensorData:
		return ValidState(ev.State)
	case EventSetEnd:
		return ev.Summary != nil
	}
	return false
}

// ValidState reports whether s is one of the four known states.
func ValidState(s string) bool {
	switch s {
	case StateWaiting, StateConcentric, StateEccentric, StateFailure:
		return true
	}
	return false
}
