package export

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qbman "github.com/ehrlich-b/go-qbman"
)

func TestCollector(t *testing.T) {
	m := qbman.NewMetrics()
	m.RecordEnqueue(true)
	m.RecordEnqueue(true)
	m.RecordEnqueue(false)
	m.RecordRelease(3, true)
	m.RecordResult(false, true)
	m.RecordResult(true, false)
	m.RecordCommand(500, true)
	m.RecordCommand(2_000, false)

	c := NewCollector("qbman")
	c.Add(0, m)
	c.Add(1, qbman.NewMetrics())

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			key := f.GetName()
			for _, lp := range mt.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case mt.GetCounter() != nil:
				values[key] = mt.GetCounter().GetValue()
			case mt.GetHistogram() != nil:
				values[key] = float64(mt.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 2.0, values["qbman_portal_submissions_total,portal=0,ring=eqcr"])
	assert.Equal(t, 1.0, values["qbman_portal_busy_total,portal=0,ring=eqcr"])
	assert.Equal(t, 3.0, values["qbman_portal_buffers_total,direction=released,portal=0"])
	assert.Equal(t, 1.0, values["qbman_portal_results_total,kind=notification,portal=0"])
	assert.Equal(t, 1.0, values["qbman_portal_command_failures_total,portal=0"])
	assert.Equal(t, 2.0, values["qbman_portal_command_duration_seconds,portal=0"])
	assert.Equal(t, 0.0, values["qbman_portal_submissions_total,portal=1,ring=eqcr"])

	c.Remove(1)
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if lp.GetName() == "portal" {
					assert.Equal(t, "0", lp.GetValue())
				}
			}
		}
	}
}
