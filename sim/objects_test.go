package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragAddrs(frags []fragment) []uint32 {
	var out []uint32
	for _, f := range frags {
		out = append(out, f.fr.fd[0])
	}
	return out
}

func mkFrame(addr uint32) frame {
	var fr frame
	fr.fd[0] = addr
	fr.fd[2] = 64
	return fr
}

func TestORPOrdering(t *testing.T) {
	o := newORP(1)
	target := &fq{id: 1}

	require.True(t, o.submit(2, false, target, mkFrame(2)))
	assert.Empty(t, o.drain())
	require.True(t, o.submit(0, false, target, mkFrame(0)))
	assert.Equal(t, []uint32{0}, fragAddrs(o.drain()))
	require.True(t, o.submit(1, false, target, mkFrame(1)))
	assert.Equal(t, []uint32{1, 2}, fragAddrs(o.drain()))
	assert.Equal(t, uint32(3), o.nesn)

	assert.False(t, o.submit(1, false, target, mkFrame(1)), "already passed")
	assert.False(t, o.hole(0))
}

func TestORPWraps(t *testing.T) {
	o := newORP(1)
	o.nesn = seqMask
	target := &fq{id: 1}

	require.True(t, o.submit(0, false, target, mkFrame(0)))
	require.True(t, o.submit(seqMask, false, target, mkFrame(seqMask)))
	assert.Equal(t, []uint32{seqMask, 0}, fragAddrs(o.drain()))
	assert.Equal(t, uint32(1), o.nesn)
}

func TestORPSkip(t *testing.T) {
	o := newORP(1)
	target := &fq{id: 1}

	require.True(t, o.submit(1, true, target, mkFrame(1)))
	out, ok := o.skip(1)
	require.True(t, ok)
	assert.Equal(t, []uint32{1}, fragAddrs(out), "held fragments are released as is")
	assert.Equal(t, uint32(2), o.nesn)

	_, ok = o.skip(0)
	assert.False(t, ok)
}

func TestChannelSelection(t *testing.T) {
	ch := &channel{id: 1}
	a := &fq{id: 1, wq: 1, state: fqScheduled, ch: ch}
	b := &fq{id: 2, wq: 1, state: fqScheduled, ch: ch}
	c := &fq{id: 3, wq: 0, state: fqScheduled, ch: ch}
	ch.fqs = []*fq{a, b, c}

	a.push(mkFrame(1))
	b.push(mkFrame(2))
	assert.Same(t, a, ch.selectFQ(-1, false))
	assert.Same(t, b, ch.selectFQ(-1, false), "round-robin within a work queue")
	assert.Same(t, a, ch.selectFQ(-1, false))

	c.push(mkFrame(3))
	assert.Same(t, c, ch.selectFQ(-1, false), "work queue 0 first")

	// Active precedence sticks with the last FQ served.
	assert.Same(t, c, ch.selectFQ(-1, true))
	c.pop()
	assert.NotSame(t, c, ch.selectFQ(-1, true))

	assert.Nil(t, ch.selectFQ(5, false))
}

func TestFQStates(t *testing.T) {
	f := &fq{id: 1, state: fqScheduled}
	assert.Equal(t, "tentative", f.describe())

	f.push(mkFrame(1))
	assert.Equal(t, "scheduled", f.describe())
	assert.Equal(t, uint64(64), f.bytes)

	f.xoff = true
	assert.Equal(t, "tentative", f.describe())
	f.xoffRace = true
	assert.True(t, f.trulyScheduled())

	f.state = fqParked
	assert.Equal(t, "parked", f.describe())
}

func TestPoolDepletion(t *testing.T) {
	bp := &pool{id: 1, threshold: 1, depleted: true}
	bp.bufs = []uint64{1, 2, 3}
	assert.True(t, bp.stateChanged())
	assert.False(t, bp.depleted)

	assert.Equal(t, []uint64{1, 2}, bp.take(2))
	assert.True(t, bp.stateChanged())
	assert.True(t, bp.depleted)
	assert.Equal(t, []uint64{3}, bp.take(5))
	assert.False(t, bp.stateChanged())
}
