package qbman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qbman/internal/uapi"
	"github.com/ehrlich-b/go-qbman/sim"
)

func TestPullDescClear(t *testing.T) {
	d := NewPullDesc()
	zero := d.Words()
	assert.Equal(t, uint8(1), d.NumFrames())

	d.SetChannel(7, PullTypeActive)
	d.SetNumFrames(16)
	d.SetToken(0xaa)
	d.SetStorage(make([]DQEntry, 16), 0x4000, true)

	d.Clear()
	assert.Equal(t, zero, d.Words())
	d.Clear()
	assert.Equal(t, zero, d.Words())

	scope, _, _ := d.Scope()
	assert.Equal(t, PullScopeNone, scope)
	storage, _ := d.Storage()
	assert.Nil(t, storage)
}

func TestPullDescEncoding(t *testing.T) {
	d := NewPullDesc()
	d.SetFQ(0x123456)
	d.SetNumFrames(16)
	d.SetToken(0xaa)

	w := d.Words()
	assert.Equal(t, uint32(uapi.PullDTFQ<<2|15<<8|0xaa<<16), w[0])
	assert.Equal(t, uint32(0x123456), w[1])

	d.SetWQ(0x21, PullTypeActiveNoICS)
	d.SetStorage(make([]DQEntry, 16), 0xfeed0000, false)
	w = d.Words()
	assert.Equal(t, uint32(2), w[0]&0x3)
	assert.Equal(t, uint32(uapi.PullDTWQ), (w[0]>>2)&0x3)
	assert.NotZero(t, w[0]&0x10, "results to storage")
	assert.Equal(t, uint32(0xfeed0000), w[2])

	d.SetStorage(nil, 0xfeed0000, true)
	w = d.Words()
	assert.Zero(t, w[0]&0x30)
	assert.Zero(t, w[2])
}

func TestPullValidation(t *testing.T) {
	e := newSim(t, sim.Config{})
	p := newTestPortal(t, e, 0, nil)

	tests := []struct {
		name  string
		setup func(d *PullDesc)
	}{
		{"no target", func(d *PullDesc) {}},
		{"zero frames", func(d *PullDesc) { d.SetFQ(1); d.SetNumFrames(0) }},
		{"too many frames", func(d *PullDesc) { d.SetFQ(1); d.SetNumFrames(17) }},
		{"short storage", func(d *PullDesc) {
			d.SetFQ(1)
			d.SetNumFrames(4)
			d.SetStorage(make([]DQEntry, 2), 0x1000, false)
		}},
		{"id too large", func(d *PullDesc) { d.SetChannel(1<<24, PullTypePrio) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewPullDesc()
			tt.setup(d)
			assert.ErrorIs(t, p.Pull(d), ErrInvalidArgument)
			assert.False(t, p.PullBusy())
		})
	}
}

func TestPullFromFQ(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, Ctx: 0xdead00000000beef, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	enqueueTo(t, p, 10, 1, 2, 3)

	d := NewPullDesc()
	d.SetFQ(10)
	d.SetNumFrames(3)
	d.SetToken(7)
	require.NoError(t, p.Pull(d))

	got := drainDQRR(p)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 2, 3}, frameAddrs(got))
	for i := range got {
		assert.True(t, got[i].IsDQ())
		assert.True(t, got[i].IsPull())
		assert.Equal(t, uint8(7), got[i].Token())
		assert.Equal(t, uint32(10), got[i].FQID())
		assert.Equal(t, uint32(0xdead), got[i].FQDCtxHi())
		assert.Equal(t, uint32(0xbeef), got[i].FQDCtxLo())
		assert.Equal(t, uint32(2-i), got[i].FrameCount())
		assert.Equal(t, uint32(64*(2-i)), got[i].ByteCount())
	}
	assert.False(t, got[1].IsPullComplete())
	assert.True(t, got[2].IsPullComplete())
	assert.NotZero(t, got[2].Flags()&DQStatFQEmpty)
	assert.False(t, p.PullBusy())
	assert.Nil(t, p.DQRRNext())
}

func TestPullEmpty(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	d := NewPullDesc()
	d.SetFQ(10)
	d.SetNumFrames(4)
	require.NoError(t, p.Pull(d))

	got := drainDQRR(p)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsPullComplete())
	assert.Nil(t, got[0].FD())
	assert.Equal(t, uint64(1), p.Metrics().Snapshot().EmptyResults)
}

func TestPullOneInFlight(t *testing.T) {
	e := newSim(t, sim.Config{Manual: true})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	d := NewPullDesc()
	d.SetFQ(10)
	require.NoError(t, p.Pull(d))
	assert.True(t, p.PullBusy())
	assert.ErrorIs(t, p.Pull(d), ErrBusy)

	e.Process()
	assert.True(t, p.PullBusy(), "busy until the final result is seen")

	entry := p.DQRRNext()
	require.NotNil(t, entry)
	assert.True(t, entry.IsPullComplete())
	assert.False(t, p.PullBusy())
	p.DQRRConsume(entry)

	require.NoError(t, p.Pull(d))
	e.Process()
	require.Len(t, drainDQRR(p), 1)
	assert.Equal(t, uint64(1), p.Metrics().Snapshot().PullBusy)
}

func TestDQRRWrap(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	var want []uint64
	for i := uint64(0); i < 20; i++ {
		enqueueTo(t, p, 10, i)
		want = append(want, i)
	}

	d := NewPullDesc()
	d.SetFQ(10)
	d.SetNumFrames(5)
	var got []uint64
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Pull(d))
		got = append(got, frameAddrs(drainDQRR(p))...)
	}
	assert.Equal(t, want, got)
}

func TestDQRRBackpressure(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	for i := uint64(0); i < 16; i++ {
		enqueueTo(t, p, 10, i)
	}
	d := NewPullDesc()
	d.SetFQ(10)
	d.SetNumFrames(16)
	require.NoError(t, p.Pull(d))

	var held []*DQEntry
	for i := 0; i < p.DQRRDepth(); i++ {
		entry := p.DQRRNext()
		require.NotNil(t, entry)
		held = append(held, entry)
	}
	assert.Nil(t, p.DQRRNext(), "ring full until entries are consumed")
	assert.True(t, p.PullBusy())

	// Consumption may happen out of order.
	for i := len(held) - 1; i >= 0; i-- {
		idx, ok := p.DQRRIndex(held[i])
		require.True(t, ok)
		assert.Equal(t, uint8(i), idx)
		p.DQRRConsume(held[i])
	}

	rest := drainDQRR(p)
	require.Len(t, rest, 8)
	assert.Equal(t, uint64(8), rest[0].FD().Addr())
	assert.True(t, rest[7].IsPullComplete())
	assert.False(t, p.PullBusy())
}

func TestPullToStorage(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	storage := make([]DQEntry, 4)
	SetOldToken(storage, 0)
	MapStorage(e, 0x10000, storage)

	enqueueTo(t, p, 10, 0xa, 0xb)

	d := NewPullDesc()
	d.SetFQ(10)
	d.SetNumFrames(4)
	d.SetToken(1)
	d.SetStorage(storage, 0x10000, false)
	require.NoError(t, p.Pull(d))

	assert.Nil(t, p.DQRRNext(), "results bypass DQRR")
	require.True(t, p.HasNewToken(&storage[0], 1))
	assert.False(t, p.HasNewToken(&storage[0], 1), "a completed entry reports once")
	assert.Zero(t, storage[0].Token())
	assert.True(t, p.PullBusy())
	require.True(t, p.HasNewToken(&storage[1], 1))
	assert.False(t, p.PullBusy())
	assert.False(t, p.HasNewToken(&storage[2], 1), "pull ended early")

	assert.Equal(t, uint64(0xa), storage[0].FD().Addr())
	assert.Equal(t, uint64(0xb), storage[1].FD().Addr())
	assert.True(t, storage[1].IsPullComplete())

	// Reusing the storage with a fresh token.
	SetOldToken(storage, 1)
	d.SetToken(2)
	require.NoError(t, p.Pull(d))
	assert.False(t, p.HasNewToken(&storage[0], 1))
	require.True(t, p.HasNewToken(&storage[0], 2))
	assert.Nil(t, storage[0].FD())
	assert.True(t, storage[0].IsPullComplete())
}

func TestEntriesFromBytes(t *testing.T) {
	buf := make([]byte, 4*64)
	entries, err := EntriesFromBytes(buf)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	SetOldToken(entries, 0x7f)
	assert.Equal(t, byte(0x7f), buf[64+7], "token is byte 7 of each entry")

	_, err = EntriesFromBytes(make([]byte, 65))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPushDequeue(t *testing.T) {
	e := newSim(t, sim.Config{})
	require.NoError(t, e.AddChannel(sim.ChannelConfig{ID: 1, NotifyPortal: -1}))
	addFQ(t, e, sim.FQConfig{ID: 20, Channel: 1, NotifyPortal: -1})
	require.NoError(t, e.MapChannelIndex(0, 3, 1))
	p := newTestPortal(t, e, 0, nil)

	assert.ErrorIs(t, p.PushSet(PushChannels, true), ErrInvalidArgument)
	require.NoError(t, p.PushSet(3, true))
	assert.True(t, p.PushGet(3))
	assert.False(t, p.PushGet(2))

	enqueueTo(t, p, 20, 1, 2)
	got := drainDQRR(p)
	require.Len(t, got, 2)
	assert.Equal(t, []uint64{1, 2}, frameAddrs(got))
	assert.False(t, got[0].IsPull())
	assert.Equal(t, uint8(0xbb), got[0].Token())

	require.NoError(t, p.PushSet(3, false))
	enqueueTo(t, p, 20, 3)
	assert.Nil(t, p.DQRRNext())
	assert.Equal(t, 1, e.FQLength(20))
}

func TestChannelPullPriority(t *testing.T) {
	e := newSim(t, sim.Config{})
	require.NoError(t, e.AddChannel(sim.ChannelConfig{ID: 2, NotifyPortal: -1}))
	addFQ(t, e, sim.FQConfig{ID: 21, Channel: 2, WQ: 3, NotifyPortal: -1})
	addFQ(t, e, sim.FQConfig{ID: 22, Channel: 2, WQ: 0, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	enqueueTo(t, p, 21, 0x21)
	enqueueTo(t, p, 22, 0x22)

	d := NewPullDesc()
	d.SetChannel(2, PullTypePrio)
	d.SetNumFrames(2)
	require.NoError(t, p.Pull(d))
	assert.Equal(t, []uint64{0x22, 0x21}, frameAddrs(drainDQRR(p)))

	// A work queue pull sees only its own FQs.
	enqueueTo(t, p, 21, 0x21)
	enqueueTo(t, p, 22, 0x22)
	d.SetWQ(2<<3|3, PullTypePrio)
	require.NoError(t, p.Pull(d))
	assert.Equal(t, []uint64{0x21}, frameAddrs(drainDQRR(p)))
}

func TestNotificationKinds(t *testing.T) {
	e := newSim(t, sim.Config{})
	p := newTestPortal(t, e, 0, nil)

	tests := []struct {
		verb  uint8
		check func(*DQEntry) bool
	}{
		{uapi.VerbFQDAN, (*DQEntry).IsFQDAN},
		{uapi.VerbCDAN, (*DQEntry).IsCDAN},
		{uapi.VerbCSCNMem, (*DQEntry).IsCSCN},
		{uapi.VerbCSCNWQ, (*DQEntry).IsCSCN},
		{uapi.VerbBPSCN, (*DQEntry).IsBPSCN},
		{uapi.VerbCGCU, (*DQEntry).IsCGCU},
		{uapi.VerbFQRN, (*DQEntry).IsFQRN},
		{uapi.VerbFQRNI, (*DQEntry).IsFQRNI},
		{uapi.VerbFQPN, (*DQEntry).IsFQPN},
	}

	for _, tt := range tests {
		e.InjectNotification(0, sim.Notification{Verb: tt.verb, Resource: 0x42, State: 1, Ctx: 0x1234})
		got := drainDQRR(p)
		require.Len(t, got, 1)
		n := &got[0]
		assert.True(t, tt.check(n), "verb %#x", tt.verb)
		assert.False(t, n.IsDQ())
		assert.Nil(t, n.FD())
		assert.Equal(t, uint32(0x42), n.ResourceID())
		assert.Equal(t, uint8(1), n.State())
		assert.Equal(t, uint64(0x1234), n.Context())
	}
	assert.Equal(t, uint64(len(tests)), p.Metrics().Snapshot().Notifications)
}

func TestRetireNotification(t *testing.T) {
	e := newSim(t, sim.Config{})
	addFQ(t, e, sim.FQConfig{ID: 10, NotifyPortal: 0})
	addFQ(t, e, sim.FQConfig{ID: 11, NotifyPortal: 0})
	p := newTestPortal(t, e, 0, nil)

	enqueueTo(t, p, 10, 1)
	require.NoError(t, e.RetireFQ(10))
	require.NoError(t, e.RetireFQ(11))

	got := drainDQRR(p)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsFQRN())
	assert.Equal(t, uint32(10), got[0].ResourceID())
	assert.True(t, got[1].IsFQRNI())

	// A retired FQ still drains through FQ pulls but takes no new frames.
	d := NewPullDesc()
	d.SetFQ(10)
	require.NoError(t, p.Pull(d))
	assert.Equal(t, []uint64{1}, frameAddrs(drainDQRR(p)))
}

func TestHoldActiveAndDCA(t *testing.T) {
	e := newSim(t, sim.Config{})
	require.NoError(t, e.AddChannel(sim.ChannelConfig{ID: 3, NotifyPortal: -1}))
	addFQ(t, e, sim.FQConfig{ID: 70, Channel: 3, HoldActive: true, NotifyPortal: 0})
	addFQ(t, e, sim.FQConfig{ID: 71, NotifyPortal: -1})
	p := newTestPortal(t, e, 0, nil)

	enqueueTo(t, p, 70, 1, 2, 3)

	d := NewPullDesc()
	d.SetChannel(3, PullTypePrio)
	d.SetNumFrames(3)
	require.NoError(t, p.Pull(d))

	first := p.DQRRNext()
	require.NotNil(t, first)
	assert.NotZero(t, first.Flags()&DQStatHeldActive)
	assert.True(t, first.IsPullComplete(), "held FQ cannot serve the rest of the pull")
	assert.Equal(t, "held", e.FQState(70))

	// Forwarding the frame consumes the entry and releases the FQ.
	idx, ok := p.DQRRIndex(first)
	require.True(t, ok)
	fwd := NewEqDesc()
	fwd.SetFQ(71)
	fwd.SetDCA(true, idx, false)
	require.NoError(t, p.Enqueue(fwd, first.FD()))
	assert.Equal(t, "scheduled", e.FQState(70))

	require.NoError(t, p.Pull(d))
	second := p.DQRRNext()
	require.NotNil(t, second)
	assert.Equal(t, uint64(2), second.FD().Addr())

	// Parking instead leaves the FQ parked and says so.
	idx, _ = p.DQRRIndex(second)
	fwd.SetDCA(true, idx, true)
	require.NoError(t, p.Enqueue(fwd, second.FD()))
	assert.Equal(t, "parked", e.FQState(70))

	got := drainDQRR(p)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsFQPN())
	assert.Equal(t, uint32(70), got[0].ResourceID())
	assert.Equal(t, 2, e.FQLength(71))
}
