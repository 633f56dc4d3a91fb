package reps

import "slices"

// History keeps the most recent concentric durations (ms) in a fixed ring
// and the median over them. Storage is allocated once in NewHistory.
type History struct {
	values  []uint64
	scratch []uint64
	cursor  int
	count   int
	median  float64
}

// NewHistory creates a ring with the given capacity.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		values:  make([]uint64, capacity),
		scratch: make([]uint64, 0, capacity),
	}
}

// Add appends a duration, overwriting the oldest once full, and recomputes
// the median.
func (h *History) Add(ms uint64) {
	h.values[h.cursor] = ms
	h.cursor = (h.cursor + 1) % len(h.values)
	if h.count < len(h.values) {
		h.count++
	}
	h.median = h.computeMedian()
}

func (h *History) computeMedian() float64 {
	if h.count == 0 {
		return 0
	}
	h.scratch = append(h.scratch[:0], h.values[:h.count]...)
	slices.Sort(h.scratch)

	mid := h.count / 2
	if h.count%2 == 1 {
		return float64(h.scratch[mid])
	}
	return (float64(h.scratch[mid-1]) + float64(h.scratch[mid])) / 2
}

// Median returns the median of the valid entries, 0 when empty.
func (h *History) Median() float64 { return h.median }

// Established reports whether at least n durations were recorded.
func (h *History) Established(n int) bool { return h.count >= n }

// Len returns the number of valid entries.
func (h *History) Len() int { return h.count }

// Cap returns the ring capacity.
func (h *History) Cap() int { return len(h.values) }

// Values returns the valid entries, oldest first.
func (h *History) Values() []uint64 {
	out := make([]uint64, 0, h.count)
	start := 0
	if h.count == len(h.values) {
		start = h.cursor
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.values[(start+i)%len(h.values)])
	}
	return out
}
