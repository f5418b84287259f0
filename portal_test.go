package qbman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qbman/sim"
)

// newSim returns an engine that fails the test if the driver ever violates
// the portal protocol.
func newSim(t *testing.T, cfg sim.Config) *sim.Engine {
	t.Helper()
	if cfg.Portals == 0 {
		cfg.Portals = 1
	}
	e := sim.New(cfg)
	t.Cleanup(func() {
		assert.Zero(t, e.Stats().ProtocolErrors, "protocol errors")
		e.Close()
	})
	return e
}

func newTestPortal(t *testing.T, e *sim.Engine, idx int, opts *Options) *Portal {
	t.Helper()
	p, err := NewSimulatedPortal(e, idx, opts)
	require.NoError(t, err)
	t.Cleanup(p.Finish)
	return p
}

func testFD(addr uint64, length uint32) *FD {
	fd := &FD{}
	fd.SetAddr(addr)
	fd.SetLen(length)
	return fd
}

func addFQ(t *testing.T, e *sim.Engine, c sim.FQConfig) {
	t.Helper()
	require.NoError(t, e.AddFQ(c))
}

func enqueueTo(t *testing.T, p *Portal, fqid uint32, addrs ...uint64) {
	t.Helper()
	d := NewEqDesc()
	d.SetFQ(fqid)
	for _, a := range addrs {
		require.NoError(t, p.Enqueue(d, testFD(a, 64)))
	}
}

// drainDQRR takes and consumes every entry currently in DQRR.
func drainDQRR(p *Portal) []DQEntry {
	var out []DQEntry
	for e := p.DQRRNext(); e != nil; e = p.DQRRNext() {
		out = append(out, *e)
		p.DQRRConsume(e)
	}
	return out
}

func frameAddrs(entries []DQEntry) []uint64 {
	var out []uint64
	for i := range entries {
		if fd := entries[i].FD(); fd != nil {
			out = append(out, fd.Addr())
		}
	}
	return out
}

func TestInitRevisions(t *testing.T) {
	tests := []struct {
		name     string
		revision uint32
		depth    int
	}{
		{"v4.0", RevisionV4000, 4},
		{"v4.1", RevisionV4100, 8},
		{"v4.2", 0x04020000, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newSim(t, sim.Config{Revision: tt.revision})
			p := newTestPortal(t, e, 0, nil)
			assert.Equal(t, tt.depth, p.DQRRDepth())
			assert.Equal(t, tt.revision, p.Descriptor().Revision)
		})
	}
}

func TestInitFailures(t *testing.T) {
	t.Run("disabled portal", func(t *testing.T) {
		e := newSim(t, sim.Config{})
		e.Portal(0).Disable()
		_, err := NewSimulatedPortal(e, 0, nil)
		assert.ErrorIs(t, err, ErrInit)
	})

	t.Run("unknown revision", func(t *testing.T) {
		e := newSim(t, sim.Config{})
		sp := e.Portal(0)
		_, err := Init(Descriptor{Revision: 0x05000000, CENA: sp, CINH: sp}, nil)
		assert.ErrorIs(t, err, ErrInit)
	})

	t.Run("missing mapping", func(t *testing.T) {
		e := newSim(t, sim.Config{})
		_, err := Init(Descriptor{Revision: RevisionV4100, CINH: e.Portal(0)}, nil)
		assert.ErrorIs(t, err, ErrInit)
		assert.True(t, IsCode(err, ErrCodeInit))
	})
}

func TestFinishTwice(t *testing.T) {
	e := newSim(t, sim.Config{})
	p, err := NewSimulatedPortal(e, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.PushSet(0, true))

	p.Finish()
	p.Finish()
	assert.False(t, p.PushGet(0))
}

func TestReinitAfterFinish(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 12, NotifyPortal: -1})
	p, err := NewSimulatedPortal(e, 0, nil)
	require.NoError(t, err)

	enqueueTo(t, p, 12, 1, 2, 3, 4)
	d := NewPullDesc()
	d.SetFQ(12)
	d.SetNumFrames(3)
	require.NoError(t, p.Pull(d))
	require.Equal(t, []uint64{1, 2, 3}, frameAddrs(drainDQRR(p)))
	p.Finish()

	again := newTestPortal(t, e, 0, nil)
	assert.Nil(t, again.DQRRNext(), "consumed results are not handed out again")

	d.SetNumFrames(1)
	require.NoError(t, again.Pull(d))
	assert.Equal(t, []uint64{4}, frameAddrs(drainDQRR(again)))
}

type countingObserver struct {
	NoOpObserver
	enqueues, results int
}

func (o *countingObserver) ObserveEnqueue(accepted bool) {
	if accepted {
		o.enqueues++
	}
}

func (o *countingObserver) ObserveResult(_, _ bool) { o.results++ }

func TestCustomObserver(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})

	obs := &countingObserver{}
	p := newTestPortal(t, e, 0, &Options{Observer: obs})

	enqueueTo(t, p, 10, 0x100, 0x200)
	pd := NewPullDesc()
	pd.SetFQ(10)
	pd.SetNumFrames(2)
	require.NoError(t, p.Pull(pd))
	drainDQRR(p)

	assert.Equal(t, 2, obs.enqueues)
	assert.Equal(t, 2, obs.results)
	assert.Zero(t, p.Metrics().Snapshot().Enqueues, "built-in metrics bypassed")
}
