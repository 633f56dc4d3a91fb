package telemetry

import "log"

// Sink is anything that accepts events. It matches the counter's channel
// contract.
type Sink interface {
	Ready() bool
	Send(Event)
}

// Multi fans one event out to several sinks. It is ready when any sink is
// ready and sends only to the ready ones. A sink that was not ready when an
// event went out gets it on the next Sync once it is. Not safe for
// concurrent use.
type Multi struct {
	sinks  []Sink
	stale  []bool // sink has not seen latest
	latest Event
	have   bool
}

// NewMulti builds a fan-out over sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
	m.stale = append(m.stale, m.have)
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Ready() bool {
	for _, s := range m.sinks {
		if s.Ready() {
			return true
		}
	}
	return false
}

func (m *Multi) Send(ev Event) {
	m.latest, m.have = ev, true
	for i, s := range m.sinks {
		m.stale[i] = !s.Ready()
		if !m.stale[i] {
			s.Send(ev)
		}
	}
}

// Sync delivers the latest event to sinks that missed it and are now ready.
func (m *Multi) Sync() {
	if !m.have {
		return
	}
	for i, s := range m.sinks {
		if m.stale[i] && s.Ready() {
			s.Send(m.latest)
			m.stale[i] = false
		}
	}
}

// Log writes events to the process log.
type Log struct{}

func (Log) Ready() bool { return true }

func (Log) Send(ev Event) {
	if ev.Event == EventSetEnd && ev.Summary != nil {
		sum := ev.Summary
		log.Printf("set: reps=%d failures=%d tut=%dms median=%.0fms fatigue=%.1f%%",
			sum.Reps, sum.Failures, sum.TUTMs, sum.MedianMs, sum.FatigueIndex)
		log.Printf("set: tip: %s", ev.Tip)
		return
	}
	log.Printf("sensor: reps=%d %s", ev.Reps, Label(ev.State))
}

// Label is the human readable line for a state.
func Label(state string) string {
	switch state {
	case StateWaiting:
		return "WAITING for movement"
	case StateConcentric:
		return "CONCENTRIC phase - lifting"
	case StateEccentric:
		return "ECCENTRIC phase - lowering"
	case StateFailure:
		return "FAILURE detected - rep slowing down"
	}
	return "unknown state " + state
}
