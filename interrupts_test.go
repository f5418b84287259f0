package qbman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qbman/sim"
)

func TestInterruptRegisters(t *testing.T) {
	e := newSim(t, sim.Config{})
	p := newTestPortal(t, e, 0, nil)

	p.InterruptSetTrigger(InterruptDQRI | InterruptVDCI)
	assert.Equal(t, InterruptDQRI|InterruptVDCI, p.InterruptGetTrigger())

	p.InterruptSetVanish(InterruptEQRI)
	assert.Equal(t, InterruptEQRI, p.InterruptGetVanish())

	assert.False(t, p.InterruptGetInhibit())
	p.InterruptSetInhibit(true)
	assert.True(t, p.InterruptGetInhibit())
	p.InterruptSetInhibit(false)
	assert.False(t, p.InterruptGetInhibit())
}

func TestInterruptStatus(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	require.NoError(t, e.AddPool(sim.PoolConfig{ID: 1, NotifyPortal: -1}))
	p := newTestPortal(t, e, 0, nil)

	d := NewPullDesc()
	d.SetFQ(10)
	require.NoError(t, p.Pull(d))
	assert.NotZero(t, p.InterruptReadStatus()&InterruptVDCI)
	assert.NotZero(t, p.InterruptReadStatus()&InterruptDQRI)

	drainDQRR(p)
	p.InterruptClearStatus(InterruptVDCI | InterruptDQRI)
	assert.Zero(t, p.InterruptReadStatus()&(InterruptVDCI|InterruptDQRI))

	// Vanished sources never latch.
	p.InterruptSetVanish(InterruptVDCI)
	require.NoError(t, p.Pull(d))
	drainDQRR(p)
	assert.Zero(t, p.InterruptReadStatus()&InterruptVDCI)

	eq := NewEqDesc()
	eq.SetFQ(10)
	eq.SetEQDI(true)
	require.NoError(t, p.Enqueue(eq, testFD(1, 64)))
	assert.NotZero(t, p.InterruptReadStatus()&InterruptEQDI)

	rel := NewReleaseDesc()
	rel.SetBPID(1)
	rel.SetRCDI(true)
	require.NoError(t, p.Release(rel, []uint64{0x10}))
	assert.NotZero(t, p.InterruptReadStatus()&InterruptRCDI)
}

func TestThresholds(t *testing.T) {
	e := newSim(t, sim.Config{Revision: RevisionV4000})
	p := newTestPortal(t, e, 0, nil)

	assert.NoError(t, p.DequeueThresh(4))
	assert.ErrorIs(t, p.DequeueThresh(5), ErrInvalidArgument, "beyond a 4-entry DQRR")
	assert.NoError(t, p.EnqueueThresh(EQCRDepth))
	assert.ErrorIs(t, p.EnqueueThresh(EQCRDepth+1), ErrInvalidArgument)
	assert.NoError(t, p.ReleaseThresh(0))
	assert.ErrorIs(t, p.ReleaseThresh(RCRDepth+1), ErrInvalidArgument)
}

func TestEnqueueThresholdInterrupt(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	enqueueTo(t, p, 10, 1)
	assert.Zero(t, p.InterruptReadStatus()&InterruptEQRI, "threshold zero disables EQRI")

	require.NoError(t, p.EnqueueThresh(2))
	enqueueTo(t, p, 10, 2)
	assert.NotZero(t, p.InterruptReadStatus()&InterruptEQRI)
}

func TestQuantizeTimeout(t *testing.T) {
	tests := []struct {
		ns, quantum uint32
		units       uint32
		ok          bool
	}{
		{0, 256, 0, true},
		{127, 256, 0, true},
		{128, 256, 1, true},
		{1000, 256, 4, true},
		{0xfff * 256, 256, 0xfff, true},
		{0xfff*256 + 128, 256, 0, false},
		{100, 0, 0, false},
		{3000, 1000, 3, true},
	}

	for _, tt := range tests {
		units, ok := QuantizeTimeout(tt.ns, tt.quantum)
		assert.Equal(t, tt.ok, ok, "ns=%d quantum=%d", tt.ns, tt.quantum)
		if tt.ok {
			assert.Equal(t, tt.units, units, "ns=%d quantum=%d", tt.ns, tt.quantum)
		}
	}
}

func TestDequeueTimeout(t *testing.T) {
	e := newSim(t, sim.Config{})
	p := newTestPortal(t, e, 0, nil)

	require.NoError(t, p.DequeueSetTimeout(1000))
	assert.Equal(t, uint32(1024), p.DequeueGetTimeout())

	// Reading back and setting again is stable.
	got := p.DequeueGetTimeout()
	require.NoError(t, p.DequeueSetTimeout(got))
	assert.Equal(t, got, p.DequeueGetTimeout())

	assert.ErrorIs(t, p.DequeueSetTimeout(0xfff*256+200), ErrInvalidArgument)
	assert.Equal(t, got, p.DequeueGetTimeout(), "rejected value leaves the timeout alone")

	sp := e.Portal(0)
	q, err := Init(Descriptor{Index: 0, Revision: RevisionV4100, CENA: sp, CINH: sp, TimeoutQuantumNs: 1000}, nil)
	require.NoError(t, err)
	require.NoError(t, q.DequeueSetTimeout(2600))
	assert.Equal(t, uint32(3000), q.DequeueGetTimeout())
}

func TestDequeueTimeoutLargeQuantum(t *testing.T) {
	e := newSim(t, sim.Config{})
	sp := e.Portal(0)

	// The largest quantum whose full 12-bit holdoff still fits 32 bits.
	const quantum = 0xffffffff / 0xfff
	p, err := Init(Descriptor{Revision: RevisionV4100, CENA: sp, CINH: sp, TimeoutQuantumNs: quantum}, nil)
	require.NoError(t, err)
	t.Cleanup(p.Finish)
	require.NoError(t, p.DequeueSetTimeout(0xfff*quantum))
	assert.Equal(t, uint32(0xfff*quantum), p.DequeueGetTimeout())

	_, err = Init(Descriptor{Revision: RevisionV4100, CENA: sp, CINH: sp, TimeoutQuantumNs: 2_200_000_000}, nil)
	assert.ErrorIs(t, err, ErrInit)
}
