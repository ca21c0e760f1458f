// Package stats keeps a bounded window of per-session round-trip latencies
// and summarizes them with gonum/stat -- the same gonum.org/v1/gonum module
// the teacher repo depends on for calibration matrix math, here exercised
// through its stat subpackage instead for a different kind of numeric
// summary. Purely observational: nothing here sits on the path that
// validates or frames a command.
package stats

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// windowSize bounds memory use; only the most recent samples matter for an
// operator watching live session health.
const windowSize = 256

// Tracker accumulates round-trip latency samples for one pump session.
type Tracker struct {
	mu      sync.Mutex
	samples []float64 // seconds
	next    int
	full    bool
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{samples: make([]float64, windowSize)}
}

// Record adds one round-trip-latency sample.
func (t *Tracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = d.Seconds()
	t.next = (t.next + 1) % windowSize
	if t.next == 0 {
		t.full = true
	}
}

// Snapshot is a read-only summary of the current window.
type Snapshot struct {
	Count  int
	Mean   float64
	StdDev float64
}

// Snapshot computes the current mean and standard deviation over the
// recorded window using gonum/stat.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.next
	if t.full {
		n = windowSize
	}
	if n == 0 {
		return Snapshot{}
	}
	data := t.samples[:n]
	if t.full {
		data = t.samples
	}
	mean := stat.Mean(data, nil)
	stddev := stat.StdDev(data, nil)
	return Snapshot{Count: n, Mean: mean, StdDev: stddev}
}
