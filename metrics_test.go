package qbman

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.Enqueues != 0 {
		t.Errorf("Expected 0 initial enqueues, got %d", snap.Enqueues)
	}

	m.RecordEnqueue(true)
	m.RecordEnqueue(true)
	m.RecordEnqueue(false)
	m.RecordPull(true)
	m.RecordRelease(3, true)
	m.RecordRelease(7, false)
	m.RecordAcquire(2)
	m.RecordAcquire(0)
	m.RecordResult(false, true)
	m.RecordResult(false, false)
	m.RecordResult(true, false)

	snap = m.Snapshot()

	if snap.Enqueues != 2 || snap.EnqueueBusy != 1 {
		t.Errorf("Expected 2 enqueues and 1 busy, got %d and %d", snap.Enqueues, snap.EnqueueBusy)
	}
	if snap.Pulls != 1 {
		t.Errorf("Expected 1 pull, got %d", snap.Pulls)
	}
	if snap.Releases != 1 || snap.BuffersReleased != 3 || snap.ReleaseBusy != 1 {
		t.Errorf("Unexpected release counters: %d/%d/%d", snap.Releases, snap.BuffersReleased, snap.ReleaseBusy)
	}
	if snap.Acquires != 1 || snap.BuffersAcquired != 2 || snap.AcquireBusy != 1 {
		t.Errorf("Unexpected acquire counters: %d/%d/%d", snap.Acquires, snap.BuffersAcquired, snap.AcquireBusy)
	}
	if snap.DequeueResults != 1 || snap.EmptyResults != 1 || snap.Notifications != 1 {
		t.Errorf("Unexpected result counters: %d/%d/%d", snap.DequeueResults, snap.EmptyResults, snap.Notifications)
	}
}

func TestMetricsCommandLatency(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 100; i++ {
		m.RecordCommand(500, true)
	}

	snap := m.Snapshot()
	if snap.Commands != 100 {
		t.Errorf("Expected 100 commands, got %d", snap.Commands)
	}
	if snap.AvgLatencyNs != 500 {
		t.Errorf("Expected 500ns average, got %d", snap.AvgLatencyNs)
	}
	if snap.LatencyHistogram[0] != 0 || snap.LatencyHistogram[1] != 100 {
		t.Errorf("Unexpected histogram: %v", snap.LatencyHistogram)
	}
	if snap.LatencyP50Ns != 625 {
		t.Errorf("Expected P50 of 625ns, got %d", snap.LatencyP50Ns)
	}

	m.RecordCommand(2_000_000, false)
	snap = m.Snapshot()
	if snap.CommandFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", snap.CommandFailures)
	}
	if snap.LatencyHistogram[7] != 101 {
		t.Errorf("Expected last bucket to count every command, got %d", snap.LatencyHistogram[7])
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	if snap.UptimeNs < uint64(10*time.Millisecond) {
		t.Errorf("Expected uptime of at least 10ms, got %d", snap.UptimeNs)
	}

	later := m.Snapshot()
	if later.UptimeNs != snap.UptimeNs {
		t.Error("Uptime should be frozen after Stop")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordEnqueue(true)
	m.RecordCommand(100, true)

	m.Reset()

	snap := m.Snapshot()
	if snap.Enqueues != 0 || snap.Commands != 0 || snap.LatencyHistogram[0] != 0 {
		t.Errorf("Expected zeroed counters after reset, got %+v", snap)
	}
}

func TestObserver(t *testing.T) {
	m := NewMetrics()
	var obs Observer = NewMetricsObserver(m)

	obs.ObserveEnqueue(true)
	obs.ObserveAcquire(4)
	obs.ObserveCommand(0x30, 1000, true)

	snap := m.Snapshot()
	if snap.Enqueues != 1 || snap.BuffersAcquired != 4 || snap.Commands != 1 {
		t.Errorf("Observer did not record into metrics: %+v", snap)
	}

	// Should not panic
	var noop Observer = NoOpObserver{}
	noop.ObserveEnqueue(true)
	noop.ObserveResult(true, false)
}
