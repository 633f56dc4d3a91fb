package reps

import "log"

// FailureClassifier flags a concentric phase that has run longer than
// multiplier times the running median.
type FailureClassifier struct {
	multiplier float64
	minHistory int

	failed bool
	total  int
}

// NewFailureClassifier creates a classifier.
func NewFailureClassifier(multiplier float64, minHistory int) *FailureClassifier {
	return &FailureClassifier{multiplier: multiplier, minHistory: minHistory}
}

// Evaluate checks the in-progress concentric phase. It returns true only on
// the tick the failure is raised.
func (f *FailureClassifier) Evaluate(phase Phase, elapsed uint64, h *History) bool {
	if phase != PhaseConcentric || f.failed || !h.Established(f.minHistory) {
		return false
	}
	median := h.Median()
	if median <= 0 {
		return false
	}
	if float64(elapsed) > median*f.multiplier {
		f.failed = true
		f.total++
		log.Printf("failure: concentric %dms vs median %.0fms (ratio %.2f)", elapsed, median, float64(elapsed)/median)
		return true
	}
	return false
}

// Reset clears the flag. Called on every phase transition.
func (f *FailureClassifier) Reset() { f.failed = false }

// Failed reports the current flag.
func (f *FailureClassifier) Failed() bool { return f.failed }

// Total returns how many failures were raised this session.
func (f *FailureClassifier) Total() int { return f.total }
