package reps

import (
	"fmt"
	"math"

	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

// Summary of the set computed from every concentric duration recorded
// since the engine started.
type Summary struct {
	Reps         int     `json:"reps"`
	Failures     int     `json:"failures"`
	Recorded     int     `json:"recorded"` // concentric durations in the set
	MedianMs     float64 `json:"median_ms"`
	MeanMs       float64 `json:"mean_ms"`
	TUTMs        uint64  `json:"tut_ms"`        // summed concentric time
	FatigueIndex float64 `json:"fatigue_index"` // (1 - fastest/slowest) * 100
	LastVsFirst  float64 `json:"last_vs_first"` // last duration / first duration
}

// Summarize builds a summary. durations are oldest first.
func Summarize(reps, failures int, durations []uint64) Summary {
	s := Summary{Reps: reps, Failures: failures, Recorded: len(durations)}
	if len(durations) == 0 {
		return s
	}

	h := NewHistory(len(durations))
	minD, maxD := durations[0], durations[0]
	for _, d := range durations {
		h.Add(d)
		s.TUTMs += d
		minD = min(minD, d)
		maxD = max(maxD, d)
	}
	s.MedianMs = h.Median()
	s.MeanMs = float64(s.TUTMs) / float64(len(durations))
	if maxD > 0 {
		s.FatigueIndex = (1 - float64(minD)/float64(maxD)) * 100
	}
	if first := durations[0]; first > 0 {
		s.LastVsFirst = float64(durations[len(durations)-1]) / float64(first)
	}
	return s
}

// Tip is a one line coaching note for the set.
func (s Summary) Tip() string {
	switch {
	case s.Reps == 0:
		return "No reps recorded."
	case s.Failures > 0:
		return fmt.Sprintf("%d rep(s) slowed past the failure line. Rack it there next time or drop the load.", s.Failures)
	case s.FatigueIndex < 10:
		extra := int(math.Ceil(float64(s.Reps) * 0.5))
		return fmt.Sprintf("Excellent speed consistency. You likely had %d more reps in the tank. Consider adding load.", extra)
	case s.FatigueIndex > 30:
		return "Big slowdown across the set. Great work pushing hard, but watch for form breakdown on future sets."
	}
	return fmt.Sprintf("Solid set! Slowdown at %.0f%% over %d reps.", s.FatigueIndex, s.Reps)
}

// Wire converts the summary to its telemetry form.
func (s Summary) Wire() telemetry.SetSummary {
	return telemetry.SetSummary{
		Reps:         s.Reps,
		Failures:     s.Failures,
		MedianMs:     s.MedianMs,
		MeanMs:       s.MeanMs,
		TUTMs:        s.TUTMs,
		FatigueIndex: s.FatigueIndex,
		LastVsFirst:  s.LastVsFirst,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("reps=%d failures=%d median=%.0fms mean=%.0fms tut=%dms fatigue=%.1f%%",
		s.Reps, s.Failures, s.MedianMs, s.MeanMs, s.TUTMs, s.FatigueIndex)
}
