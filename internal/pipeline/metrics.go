package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	Received  atomic.Uint64
	Decoded   atomic.Uint64
	Malformed atomic.Uint64
	Reported  atomic.Uint64
	Expired   atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Decoded.Store(0)
	m.Malformed.Store(0)
	m.Reported.Store(0)
	m.Expired.Store(0)
}
