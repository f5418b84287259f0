// Package export publishes portal metrics to Prometheus.
package export

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	qbman "github.com/ehrlich-b/go-qbman"
)

// Source yields a metrics snapshot; *qbman.Metrics satisfies it.
type Source interface {
	Snapshot() qbman.MetricsSnapshot
}

type counter struct {
	desc  *prometheus.Desc
	label string // value of the desc's second label, if it has one
	value func(*qbman.MetricsSnapshot) uint64
}

// Collector reports the snapshots of a set of portals, labelled by portal
// index.
type Collector struct {
	mu      sync.Mutex
	sources map[int]Source

	counters []counter
	latency  *prometheus.Desc
	uptime   *prometheus.Desc
}

// NewCollector returns an empty collector whose metric names start with
// namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{sources: make(map[int]Source)}
	labels := []string{"portal"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "portal", name), help, append(labels, extra...), nil)
	}

	submitted := desc("submissions_total", "Commands accepted into a ring.", "ring")
	busy := desc("busy_total", "Submissions rejected because a ring or command slot was full.", "ring")
	buffers := desc("buffers_total", "Buffers moved through release and acquire.", "direction")
	results := desc("results_total", "Dequeue ring and storage entries taken, by kind.", "kind")

	c.counters = []counter{
		{submitted, "eqcr", func(s *qbman.MetricsSnapshot) uint64 { return s.Enqueues }},
		{submitted, "vdqcr", func(s *qbman.MetricsSnapshot) uint64 { return s.Pulls }},
		{submitted, "rcr", func(s *qbman.MetricsSnapshot) uint64 { return s.Releases }},
		{submitted, "cr", func(s *qbman.MetricsSnapshot) uint64 { return s.Acquires }},
		{busy, "eqcr", func(s *qbman.MetricsSnapshot) uint64 { return s.EnqueueBusy }},
		{busy, "vdqcr", func(s *qbman.MetricsSnapshot) uint64 { return s.PullBusy }},
		{busy, "rcr", func(s *qbman.MetricsSnapshot) uint64 { return s.ReleaseBusy }},
		{busy, "cr", func(s *qbman.MetricsSnapshot) uint64 { return s.AcquireBusy }},
		{buffers, "released", func(s *qbman.MetricsSnapshot) uint64 { return s.BuffersReleased }},
		{buffers, "acquired", func(s *qbman.MetricsSnapshot) uint64 { return s.BuffersAcquired }},
		{results, "dequeue", func(s *qbman.MetricsSnapshot) uint64 { return s.DequeueResults }},
		{results, "notification", func(s *qbman.MetricsSnapshot) uint64 { return s.Notifications }},
		{results, "empty", func(s *qbman.MetricsSnapshot) uint64 { return s.EmptyResults }},
		{desc("command_failures_total", "Management commands that completed with a failure code."), "",
			func(s *qbman.MetricsSnapshot) uint64 { return s.CommandFailures }},
	}
	c.latency = desc("command_duration_seconds", "Management command round trip time.")
	c.uptime = desc("uptime_seconds", "Time since the portal was initialised.")
	return c
}

// Add starts reporting src as portal idx, replacing any earlier source.
func (c *Collector) Add(idx int, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[idx] = src
}

func (c *Collector) Remove(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, idx)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	seen := make(map[*prometheus.Desc]bool)
	for _, k := range c.counters {
		if !seen[k.desc] {
			seen[k.desc] = true
			ch <- k.desc
		}
	}
	ch <- c.latency
	ch <- c.uptime
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snaps := make(map[int]qbman.MetricsSnapshot, len(c.sources))
	for idx, src := range c.sources {
		snaps[idx] = src.Snapshot()
	}
	c.mu.Unlock()

	for idx, s := range snaps {
		portal := strconv.Itoa(idx)
		for _, k := range c.counters {
			labels := []string{portal}
			if k.label != "" {
				labels = append(labels, k.label)
			}
			ch <- prometheus.MustNewConstMetric(k.desc, prometheus.CounterValue, float64(k.value(&s)), labels...)
		}

		buckets := make(map[float64]uint64, len(qbman.LatencyBuckets))
		for i, ub := range qbman.LatencyBuckets {
			buckets[float64(ub)/1e9] = s.LatencyHistogram[i]
		}
		sum := float64(s.AvgLatencyNs) * float64(s.Commands) / 1e9
		ch <- prometheus.MustNewConstHistogram(c.latency, s.Commands, sum, buckets, portal)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, float64(s.UptimeNs)/1e9, portal)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
