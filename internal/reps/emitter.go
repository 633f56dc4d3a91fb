package reps

import "github.com/relabs-tech/rep_counter/internal/telemetry"

// Channel is the outbound telemetry capability. Neither method may block.
type Channel interface {
	// Ready is true once the channel's session handshake is complete.
	Ready() bool
	// Send is best effort; the channel buffers or drops.
	Send(telemetry.Event)
}

// Syncer is implemented by channels that fan out to several sinks. Sync
// hands the last event to any sink that missed it while not ready.
type Syncer interface {
	Sync()
}

// StateName maps (phase, failure) onto the wire state. Failure wins.
func StateName(p Phase, failed bool) string {
	if failed {
		return telemetry.StateFailure
	}
	return p.String()
}

type emittedState struct {
	phase  Phase
	failed bool
}

// Emitter sends an event only when (phase, failure) differs from what was
// last handed to the channel.
type Emitter struct {
	ch Channel

	last    emittedState
	hasLast bool

	sent    int
	skipped int
}

// NewEmitter wraps ch. A nil channel disables emission.
func NewEmitter(ch Channel) *Emitter {
	return &Emitter{ch: ch}
}

// Observe compares the current state with the last emitted one and sends on
// change. When the channel is not ready the emitted state is left alone, so
// the current state goes out on the first ready tick that still differs.
func (e *Emitter) Observe(p Phase, failed bool, reps int) bool {
	cur := emittedState{phase: p, failed: failed}
	if e.hasLast && cur == e.last {
		if s, ok := e.ch.(Syncer); ok {
			s.Sync()
		}
		return false
	}
	if e.ch == nil || !e.ch.Ready() {
		e.skipped++
		return false
	}

	e.ch.Send(telemetry.NewEvent(StateName(p, failed), reps))
	e.last = cur
	e.hasLast = true
	e.sent++
	return true
}

// Sent returns how many events were handed to the channel.
func (e *Emitter) Sent() int { return e.sent }

// Skipped returns how many state changes found the channel not ready.
func (e *Emitter) Skipped() int { return e.skipped }
