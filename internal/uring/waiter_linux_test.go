//go:build linux

package uring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qbman "github.com/ehrlich-b/go-qbman"
	"github.com/ehrlich-b/go-qbman/internal/uring"
	"github.com/ehrlich-b/go-qbman/sim"
)

func setup(t *testing.T) (*qbman.Portal, int) {
	t.Helper()
	e := sim.New(sim.Config{Portals: 1})
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.AddFQ(sim.FQConfig{ID: 1, NotifyPortal: -1}))

	p, err := qbman.NewSimulatedPortal(e, 0, nil)
	require.NoError(t, err)
	t.Cleanup(p.Finish)

	fd, err := e.Portal(0).IRQFD()
	require.NoError(t, err)
	p.InterruptSetTrigger(qbman.InterruptDQRI)
	return p, fd
}

func pullOne(t *testing.T, p *qbman.Portal) {
	t.Helper()
	d := qbman.NewPullDesc()
	d.SetFQ(1)
	require.NoError(t, p.Pull(d))
}

func consumeAll(p *qbman.Portal) {
	for e := p.DQRRNext(); e != nil; e = p.DQRRNext() {
		p.DQRRConsume(e)
	}
	p.InterruptClearStatus(qbman.InterruptDQRI)
}

func testWaiter(t *testing.T, poll bool) {
	p, fd := setup(t)

	w, err := uring.New(uring.Config{FD: fd, Poll: poll})
	if err != nil {
		t.Skipf("waiter unavailable: %v", err)
	}
	defer w.Close()

	fired, err := w.Wait(int64(20 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, fired, "no interrupt yet")

	pullOne(t, p)
	fired, err = w.Wait(int64(time.Second))
	require.NoError(t, err)
	assert.True(t, fired)

	// Wait re-enabled the line, so the next result fires again.
	consumeAll(p)
	pullOne(t, p)
	fired, err = w.Wait(int64(time.Second))
	require.NoError(t, err)
	assert.True(t, fired)

	consumeAll(p)
	fired, err = w.Wait(int64(20 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestPollWaiter(t *testing.T) {
	testWaiter(t, true)
}

func TestRingWaiter(t *testing.T) {
	testWaiter(t, false)
}

func TestPollWaiterBadFD(t *testing.T) {
	_, err := uring.New(uring.Config{FD: -1, Poll: true})
	assert.Error(t, err)
}
