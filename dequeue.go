package qbman

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// DQEntry is a 64-byte dequeue result: either a frame dequeue result or a
// notification. Entries are produced by hardware into DQRR or into caller
// storage supplied with PullDesc.SetStorage; callers only read them.
type DQEntry struct {
	w [uapi.EntryWords]uint32
}

// DQRRNext returns the oldest DQRR entry not yet returned, or nil when the
// ring holds nothing new. Entries may be consumed later and in any order.
func (p *Portal) DQRRNext() *DQEntry {
	slot := p.dqrr.Next()
	off := uapi.CENADQRR(slot)

	p.cena.Invalidate(off)
	w0 := p.cena.Load32(off)
	if !p.dqrr.Ready(w0) {
		return nil
	}

	e := &p.dqrrShadow[slot]
	e.w[0] = w0
	for i := 1; i < uapi.EntryWords; i++ {
		e.w[i] = p.cena.Load32(off + uint32(4*i))
	}
	p.dqrr.Advance()

	p.retire(e)
	p.observer.ObserveResult(!e.IsDQ(), e.FD() != nil)
	return e
}

// DQRRConsume tells hardware the DQRR slot behind e may be reused. e must
// have come from DQRRNext on this portal.
func (p *Portal) DQRRConsume(e *DQEntry) {
	for i := range p.dqrrShadow {
		if e == &p.dqrrShadow[i] {
			p.cinh.Write32(uapi.CINHDCAP, uint32(i))
			return
		}
	}
	p.log.Debug("consume of an entry not taken from DQRR ignored")
}

// DQRRIndex returns the ring slot an entry from DQRRNext occupies, for use
// with EqDesc.SetDCA. ok is false for entries from user storage.
func (p *Portal) DQRRIndex(e *DQEntry) (idx uint8, ok bool) {
	for i := range p.dqrrShadow {
		if e == &p.dqrrShadow[i] {
			return uint8(i), true
		}
	}
	return 0, false
}

// retire ends the in-flight pull once its last result has been seen.
func (p *Portal) retire(e *DQEntry) {
	if e.IsDQ() && e.Flags()&DQStatExpired != 0 {
		p.vdq.busy = false
	}
}

// SetOldToken stamps every entry with the sentinel token tok so that
// HasNewToken can tell when hardware has overwritten it. Call it before
// issuing the pull that targets this storage.
func SetOldToken(entries []DQEntry, tok uint8) {
	raw := uapi.ToDevice(uint32(tok) << 24)
	for i := range entries {
		e := &entries[i]
		for j := range e.w {
			if j != uapi.DQTokenWord {
				atomic.StoreUint32(&e.w[j], 0)
			}
		}
		atomic.StoreUint32(&e.w[uapi.DQTokenWord], raw)
	}
}

// HasNewToken reports whether hardware has written e with token tok. The
// token is the last part of an entry the device commits, so it is checked
// first; only after it matches is the entry converted to host byte order.
// The matched token is then cleared, so a completed entry reports true once
// and its Token reads zero. tok must not be zero.
func (p *Portal) HasNewToken(e *DQEntry, tok uint8) bool {
	if tok == 0 {
		return false
	}
	raw := atomic.LoadUint32(&e.w[uapi.DQTokenWord])
	if uapi.TokenFromRaw(raw) != tok {
		return false
	}
	uapi.Normalize(e.w[:])
	uapi.DQToken.Set(e.w[:], 0)

	p.retire(e)
	p.observer.ObserveResult(!e.IsDQ(), e.FD() != nil)
	return true
}

func (e *DQEntry) verb() uint8 {
	return uint8(uapi.Verb.Get(e.w[:]))
}

// Verb returns the response verb with the valid bit removed.
func (e *DQEntry) Verb() uint8 { return e.verb() }

// IsDQ reports a frame dequeue result (possibly without a frame).
func (e *DQEntry) IsDQ() bool { return e.verb() == uapi.VerbDQ }

// IsFQDAN reports a frame queue data availability notification.
func (e *DQEntry) IsFQDAN() bool { return e.verb() == uapi.VerbFQDAN }

// IsCDAN reports a channel data availability notification.
func (e *DQEntry) IsCDAN() bool { return e.verb() == uapi.VerbCDAN }

// IsCSCN reports a congestion state change, whether written to memory or
// delivered through a work queue.
func (e *DQEntry) IsCSCN() bool {
	v := e.verb()
	return v == uapi.VerbCSCNMem || v == uapi.VerbCSCNWQ
}

// IsBPSCN reports a buffer pool state change.
func (e *DQEntry) IsBPSCN() bool { return e.verb() == uapi.VerbBPSCN }

// IsCGCU reports a congestion group count update.
func (e *DQEntry) IsCGCU() bool { return e.verb() == uapi.VerbCGCU }

// IsFQRN reports a frame queue retirement.
func (e *DQEntry) IsFQRN() bool { return e.verb() == uapi.VerbFQRN }

// IsFQRNI reports an immediate frame queue retirement.
func (e *DQEntry) IsFQRNI() bool { return e.verb() == uapi.VerbFQRNI }

// IsFQPN reports a frame queue park.
func (e *DQEntry) IsFQPN() bool { return e.verb() == uapi.VerbFQPN }

// Flags returns the DQStat* status flags of a dequeue result.
func (e *DQEntry) Flags() uint8 {
	return uint8(uapi.Stat.Get(e.w[:]))
}

// IsPull reports a result of a volatile dequeue.
func (e *DQEntry) IsPull() bool { return e.Flags()&DQStatVolatile != 0 }

// IsPullComplete reports the last result of a volatile dequeue.
func (e *DQEntry) IsPullComplete() bool { return e.Flags()&DQStatExpired != 0 }

// Seqnum and ODPID are meaningful only when both DQStatValidFrame and
// DQStatODPValid are set.
func (e *DQEntry) Seqnum() uint16 {
	return uint16(uapi.DQSeqnum.Get(e.w[:]))
}

func (e *DQEntry) ODPID() uint16 {
	return uint16(uapi.DQODPID.Get(e.w[:]))
}

func (e *DQEntry) FQID() uint32 {
	return uapi.DQFQID.Get(e.w[:])
}

// ByteCount and FrameCount report what remained on the frame queue after
// this dequeue.
func (e *DQEntry) ByteCount() uint32 {
	return e.w[uapi.DQByteCountWord]
}

func (e *DQEntry) FrameCount() uint32 {
	return uapi.DQFrameCount.Get(e.w[:])
}

func (e *DQEntry) FQDCtxHi() uint32 { return e.w[uapi.DQCtxHiWord] }
func (e *DQEntry) FQDCtxLo() uint32 { return e.w[uapi.DQCtxLoWord] }

// Token returns the token carried by the entry.
func (e *DQEntry) Token() uint8 {
	return uint8(uapi.DQToken.Get(e.w[:]))
}

// FD returns the dequeued frame, or nil when the queue was empty or flow
// control denied the dequeue.
func (e *DQEntry) FD() *FD {
	if !e.IsDQ() || e.Flags()&DQStatValidFrame == 0 {
		return nil
	}
	var fd FD
	copy(fd.w[:], e.w[uapi.DQFDWord:])
	return &fd
}

// ResourceID returns the object a notification is about: the FQ of an
// FQDAN/FQRN/FQRNI/FQPN, the channel of a CDAN, the pool of a BPSCN or the
// congestion group of a CSCN/CGCU.
func (e *DQEntry) ResourceID() uint32 {
	return uapi.DQFQID.Get(e.w[:])
}

// Context returns the 64-bit context programmed for the notifying object.
func (e *DQEntry) Context() uint64 {
	return uapi.Get64(e.w[:], uapi.DQCtxLoWord)
}

// State returns the state byte of a notification (for BPSCN and CSCN, the
// new depletion or congestion state).
func (e *DQEntry) State() uint8 {
	return uint8(uapi.Stat.Get(e.w[:]))
}

// Words returns a copy of the raw entry.
func (e *DQEntry) Words() [uapi.EntryWords]uint32 {
	return e.w
}
