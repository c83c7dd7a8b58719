// Package ratestat tracks recent swarm-wide throughput for the log line the
// preferred-neighbor tick emits each interval. It is ambient telemetry, not
// part of the choke decision itself (that reads per-link counters
// directly): a small ring buffer of per-interval byte counts reduced with
// github.com/ahl5esoft/golang-underscore.
package ratestat

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"
)

const windowSize = 10

// Tracker accumulates total bytes received across all links each interval
// into a ring buffer, and reports the mean bytes/interval over the window.
type Tracker struct {
	mu     sync.Mutex
	window [windowSize]int64
	cursor int
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Observe records totalBytes received swarm-wide during the interval just
// finished, advancing the ring buffer.
func (t *Tracker) Observe(totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window[t.cursor] = totalBytes
	t.cursor = (t.cursor + 1) % windowSize
}

func sumReduce(acc int64, x int64, _ int) int64 {
	return acc + x
}

// MeanPerInterval returns the mean bytes/interval across the retained
// window (zero-filled until windowSize observations have been made).
func (t *Tracker) MeanPerInterval() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	underscore.Chain(t.window[:]).Reduce(sumReduce, int64(0)).Value(&total)
	return total / windowSize
}
