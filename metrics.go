package qbman

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the management command latency histogram buckets in
// nanoseconds. Commands normally complete within a few microseconds.
var LatencyBuckets = []uint64{
	250,         // 250ns
	1_000,       // 1us
	4_000,       // 4us
	16_000,      // 16us
	64_000,      // 64us
	256_000,     // 256us
	1_000_000,   // 1ms
	100_000_000, // 100ms
}

const numLatencyBuckets = 8

// Metrics tracks command and result counts for a portal
type Metrics struct {
	// Ring submissions accepted into a ring
	Enqueues atomic.Uint64
	Pulls    atomic.Uint64
	Releases atomic.Uint64
	Acquires atomic.Uint64

	// Submissions rejected with a busy result
	EnqueueBusy atomic.Uint64
	PullBusy    atomic.Uint64
	ReleaseBusy atomic.Uint64
	AcquireBusy atomic.Uint64

	// Buffer traffic
	BuffersReleased atomic.Uint64
	BuffersAcquired atomic.Uint64

	// Results taken from DQRR or user storage
	DequeueResults atomic.Uint64
	Notifications  atomic.Uint64
	EmptyResults   atomic.Uint64

	// Management commands
	Commands        atomic.Uint64
	CommandFailures atomic.Uint64
	TotalLatencyNs  atomic.Uint64

	// Each bucket[i] counts commands with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordEnqueue records an enqueue submission
func (m *Metrics) RecordEnqueue(accepted bool) {
	if accepted {
		m.Enqueues.Add(1)
	} else {
		m.EnqueueBusy.Add(1)
	}
}

// RecordPull records a pull submission
func (m *Metrics) RecordPull(accepted bool) {
	if accepted {
		m.Pulls.Add(1)
	} else {
		m.PullBusy.Add(1)
	}
}

// RecordRelease records a release of n buffers
func (m *Metrics) RecordRelease(n int, accepted bool) {
	if accepted {
		m.Releases.Add(1)
		m.BuffersReleased.Add(uint64(n))
	} else {
		m.ReleaseBusy.Add(1)
	}
}

// RecordAcquire records an acquire returning n buffers
func (m *Metrics) RecordAcquire(n int) {
	if n > 0 {
		m.Acquires.Add(1)
		m.BuffersAcquired.Add(uint64(n))
	} else {
		m.AcquireBusy.Add(1)
	}
}

// RecordResult records a dequeue entry handed to the caller
func (m *Metrics) RecordResult(notification, hasFrame bool) {
	switch {
	case notification:
		m.Notifications.Add(1)
	case hasFrame:
		m.DequeueResults.Add(1)
	default:
		m.EmptyResults.Add(1)
	}
}

// RecordCommand records a completed management command
func (m *Metrics) RecordCommand(latencyNs uint64, success bool) {
	m.Commands.Add(1)
	if !success {
		m.CommandFailures.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the portal as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	Enqueues uint64
	Pulls    uint64
	Releases uint64
	Acquires uint64

	EnqueueBusy uint64
	PullBusy    uint64
	ReleaseBusy uint64
	AcquireBusy uint64

	BuffersReleased uint64
	BuffersAcquired uint64

	DequeueResults uint64
	Notifications  uint64
	EmptyResults   uint64

	Commands        uint64
	CommandFailures uint64
	AvgLatencyNs    uint64
	LatencyP50Ns    uint64
	LatencyP99Ns    uint64

	// Cumulative bucket counts
	LatencyHistogram [numLatencyBuckets]uint64

	UptimeNs    uint64
	EnqueueRate float64 // per second
	ResultRate  float64 // per second
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Enqueues:        m.Enqueues.Load(),
		Pulls:           m.Pulls.Load(),
		Releases:        m.Releases.Load(),
		Acquires:        m.Acquires.Load(),
		EnqueueBusy:     m.EnqueueBusy.Load(),
		PullBusy:        m.PullBusy.Load(),
		ReleaseBusy:     m.ReleaseBusy.Load(),
		AcquireBusy:     m.AcquireBusy.Load(),
		BuffersReleased: m.BuffersReleased.Load(),
		BuffersAcquired: m.BuffersAcquired.Load(),
		DequeueResults:  m.DequeueResults.Load(),
		Notifications:   m.Notifications.Load(),
		EmptyResults:    m.EmptyResults.Load(),
		Commands:        m.Commands.Load(),
		CommandFailures: m.CommandFailures.Load(),
	}

	if snap.Commands > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / snap.Commands
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	snap.LatencyP50Ns = percentile(snap.LatencyHistogram, snap.Commands, 0.50)
	snap.LatencyP99Ns = percentile(snap.LatencyHistogram, snap.Commands, 0.99)

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	snap.UptimeNs = uint64(stop - start)

	if snap.UptimeNs > 0 {
		secs := float64(snap.UptimeNs) / 1e9
		snap.EnqueueRate = float64(snap.Enqueues) / secs
		snap.ResultRate = float64(snap.DequeueResults) / secs
	}

	return snap
}

// percentile estimates the latency at p (0.0-1.0) by linear interpolation
// inside the cumulative histogram.
func percentile(hist [numLatencyBuckets]uint64, total uint64, p float64) uint64 {
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBound := uint64(0)
	prevCount := uint64(0)
	for i, bound := range LatencyBuckets {
		count := hist[i]
		if count >= target {
			if count == prevCount {
				return bound
			}
			frac := float64(target-prevCount) / float64(count-prevCount)
			return prevBound + uint64(frac*float64(bound-prevBound))
		}
		prevBound, prevCount = bound, count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.Enqueues, &m.Pulls, &m.Releases, &m.Acquires,
		&m.EnqueueBusy, &m.PullBusy, &m.ReleaseBusy, &m.AcquireBusy,
		&m.BuffersReleased, &m.BuffersAcquired,
		&m.DequeueResults, &m.Notifications, &m.EmptyResults,
		&m.Commands, &m.CommandFailures, &m.TotalLatencyNs,
	} {
		c.Store(0)
	}
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives portal events. Implementations must be cheap: they run
// on the portal owner's thread.
type Observer interface {
	ObserveEnqueue(accepted bool)
	ObservePull(accepted bool)
	ObserveRelease(buffers int, accepted bool)
	ObserveAcquire(buffers int)
	ObserveResult(notification, hasFrame bool)
	ObserveCommand(verb uint8, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveEnqueue(bool)                {}
func (NoOpObserver) ObservePull(bool)                   {}
func (NoOpObserver) ObserveRelease(int, bool)           {}
func (NoOpObserver) ObserveAcquire(int)                 {}
func (NoOpObserver) ObserveResult(bool, bool)           {}
func (NoOpObserver) ObserveCommand(uint8, uint64, bool) {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveEnqueue(accepted bool) {
	o.metrics.RecordEnqueue(accepted)
}

func (o *MetricsObserver) ObservePull(accepted bool) {
	o.metrics.RecordPull(accepted)
}

func (o *MetricsObserver) ObserveRelease(buffers int, accepted bool) {
	o.metrics.RecordRelease(buffers, accepted)
}

func (o *MetricsObserver) ObserveAcquire(buffers int) {
	o.metrics.RecordAcquire(buffers)
}

func (o *MetricsObserver) ObserveResult(notification, hasFrame bool) {
	o.metrics.RecordResult(notification, hasFrame)
}

func (o *MetricsObserver) ObserveCommand(_ uint8, latencyNs uint64, success bool) {
	o.metrics.RecordCommand(latencyNs, success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
