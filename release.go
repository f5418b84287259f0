package qbman

import (
	"errors"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// ReleaseDesc describes a buffer release. The zero value is the cleared
// descriptor: pool 0, RCDI off.
type ReleaseDesc struct {
	bpid uint32
	rcdi bool
}

// NewReleaseDesc returns a cleared descriptor.
func NewReleaseDesc() *ReleaseDesc {
	return &ReleaseDesc{}
}

func (d *ReleaseDesc) Clear() {
	*d = ReleaseDesc{}
}

// SetBPID sets the pool buffers are released to.
func (d *ReleaseDesc) SetBPID(bpid uint32) {
	d.bpid = bpid
}

// SetRCDI requests the RCDI interrupt source once the release completes.
func (d *ReleaseDesc) SetRCDI(enable bool) {
	d.rcdi = enable
}

func (d *ReleaseDesc) BPID() uint32 { return d.bpid }
func (d *ReleaseDesc) RCDI() bool   { return d.rcdi }

// Release returns 1 to 7 buffers to the pool named by d. ErrBusy means RCR
// is full.
func (p *Portal) Release(d *ReleaseDesc, buffers []uint64) error {
	if len(buffers) < 1 || len(buffers) > constants.MaxReleaseBuffers {
		return p.invalid("release", "buffer count must be between 1 and 7")
	}
	if d.bpid > uapi.RelBPID.Max() {
		return p.invalid("release", "pool id exceeds 16 bits")
	}

	if p.rcr.Free() == 0 {
		p.rcr.Sync(p.cinh.Read32(uapi.CINHRCRCI))
		if p.rcr.Free() == 0 {
			p.observer.ObserveRelease(len(buffers), false)
			return p.busy("release", "RCR full")
		}
	}

	var w [uapi.EntryWords]uint32
	w[0] = uapi.RCRVerb
	uapi.RelNum.Set(w[:], uint32(len(buffers)))
	uapi.RelRCDI.SetBool(w[:], d.rcdi)
	uapi.RelBPID.Set(w[:], d.bpid)
	for i, b := range buffers {
		uapi.Set64(w[:], uapi.RelBufWord+2*i, b)
	}

	off := uapi.CENARCR(p.rcr.Slot())
	for i := 1; i < uapi.EntryWords; i++ {
		p.cena.Store32(off+uint32(4*i), w[i])
	}
	p.cena.Store32(off, w[0]|p.rcr.ValidBit())
	p.cena.Flush(off)

	p.cinh.Write32(uapi.CINHRCRPI, p.rcr.Advance())
	p.observer.ObserveRelease(len(buffers), true)
	return nil
}

// Acquire takes up to len(buffers) (1 to 7) buffers from pool bpid and
// returns how many were written. An empty pool yields ErrBusy.
func (p *Portal) Acquire(bpid uint32, buffers []uint64) (int, error) {
	if len(buffers) < 1 || len(buffers) > constants.MaxReleaseBuffers {
		return 0, p.invalid("acquire", "buffer count must be between 1 and 7")
	}
	if bpid > uapi.MCAcqBPID.Max() {
		return 0, p.invalid("acquire", "pool id exceeds 16 bits")
	}

	var cmd [uapi.EntryWords]uint32
	uapi.MCAcqBPID.Set(cmd[:], bpid)
	uapi.MCAcqNum.Set(cmd[:], uint32(len(buffers)))

	if p.mc.pending {
		return 0, p.busy("acquire", "management command "+p.mc.op+" still pending")
	}
	p.mc.acqDst = buffers
	rsp, err := p.command("acquire", uapi.MCAcquire, cmd[:])
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			p.mc.acqDst = nil
		}
		return 0, err
	}
	return p.acquired(rsp)
}

func (p *Portal) acquired(rsp *[uapi.EntryWords]uint32) (int, error) {
	dst := p.mc.acqDst
	p.mc.acqDst = nil

	n := int(uapi.MCAcqRspNum.Get(rsp[:]))
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = uapi.Get64(rsp[:], uapi.MCAcqBufWord+2*i)
	}
	p.observer.ObserveAcquire(n)
	if n == 0 {
		return 0, p.busy("acquire", "pool empty")
	}
	return n, nil
}
