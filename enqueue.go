package qbman

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// EqAction selects what an enqueue command does. The actions are mutually
// exclusive; the last setter called wins.
type EqAction uint8

const (
	// EqActionNoORP enqueues without order restoration.
	EqActionNoORP EqAction = iota
	// EqActionORP enqueues one fragment of an order-restored sequence.
	EqActionORP
	// EqActionORPHole fills a hole in the restoration sequence; nothing is
	// enqueued.
	EqActionORPHole
	// EqActionORPNESN advances the next expected sequence number; nothing is
	// enqueued.
	EqActionORPNESN
)

func (a EqAction) enqueues() bool {
	return a == EqActionNoORP || a == EqActionORP
}

type eqTarget uint8

const (
	eqTargetNone eqTarget = iota
	eqTargetFQ
	eqTargetQD
)

// EqDesc describes an enqueue. The zero value is the cleared descriptor:
// plain enqueue responding only on rejection, no target, no response
// address, token zero, EQDI and DCA off.
type EqDesc struct {
	action         EqAction
	respondSuccess bool
	orpID          uint32
	seqnum         uint32
	incomplete     bool

	target eqTarget
	tgtID  uint32
	qdBin  uint32
	qdPrio uint32

	rspPhys  uint64
	rspStash bool
	token    uint8

	eqdi    bool
	dca     bool
	dcaIdx  uint32
	dcaPark bool
}

// NewEqDesc returns a cleared descriptor.
func NewEqDesc() *EqDesc {
	return &EqDesc{}
}

// Clear restores the default state.
func (d *EqDesc) Clear() {
	*d = EqDesc{}
}

// SetNoORP selects a plain enqueue. respondSuccess requests a response
// after success as well as after failure.
func (d *EqDesc) SetNoORP(respondSuccess bool) {
	d.action = EqActionNoORP
	d.respondSuccess = respondSuccess
	d.orpID, d.seqnum, d.incomplete = 0, 0, false
}

// SetORP selects an order-restored enqueue of fragment seqnum through ORP
// orpID. incomplete marks that more fragments with the same seqnum follow.
func (d *EqDesc) SetORP(respondSuccess bool, orpID, seqnum uint32, incomplete bool) {
	d.action = EqActionORP
	d.respondSuccess = respondSuccess
	d.orpID, d.seqnum, d.incomplete = orpID, seqnum, incomplete
}

// SetORPHole declares seqnum will never arrive, letting later sequence
// numbers through.
func (d *EqDesc) SetORPHole(orpID, seqnum uint32) {
	d.action = EqActionORPHole
	d.respondSuccess = false
	d.orpID, d.seqnum, d.incomplete = orpID, seqnum, false
}

// SetORPNESN moves the ORP's next expected sequence number past seqnum.
func (d *EqDesc) SetORPNESN(orpID, seqnum uint32) {
	d.action = EqActionORPNESN
	d.respondSuccess = false
	d.orpID, d.seqnum, d.incomplete = orpID, seqnum, false
}

// SetResponse sets where an enqueue response is written. stash requests a
// cache-warming write.
func (d *EqDesc) SetResponse(phys uint64, stash bool) {
	d.rspPhys, d.rspStash = phys, stash
}

// SetToken sets the token that appears in the enqueue response.
func (d *EqDesc) SetToken(tok uint8) {
	d.token = tok
}

// SetFQ targets a frame queue.
func (d *EqDesc) SetFQ(fqid uint32) {
	d.target, d.tgtID, d.qdBin, d.qdPrio = eqTargetFQ, fqid, 0, 0
}

// SetQD targets a queuing destination, which maps (prio, bin) to a frame
// queue.
func (d *EqDesc) SetQD(qdid, bin, prio uint32) {
	d.target, d.tgtID, d.qdBin, d.qdPrio = eqTargetQD, qdid, bin, prio
}

// SetEQDI requests the EQDI interrupt source once the command completes.
func (d *EqDesc) SetEQDI(enable bool) {
	d.eqdi = enable
}

// SetDCA consumes DQRR entry dqrrIdx once the enqueue completes. For a
// held-active FQ, park parks the FQ instead of rescheduling it.
func (d *EqDesc) SetDCA(enable bool, dqrrIdx uint8, park bool) {
	d.dca = enable
	d.dcaIdx = uint32(dqrrIdx)
	d.dcaPark = park
}

// Action returns the selected action and its ORP parameters.
func (d *EqDesc) Action() (a EqAction, orpID, seqnum uint32, incomplete bool) {
	return d.action, d.orpID, d.seqnum, d.incomplete
}

func (d *EqDesc) Token() uint8 { return d.token }

func (d *EqDesc) validate(p *Portal, fd *FD) error {
	if d.action.enqueues() {
		if d.target == eqTargetNone {
			return p.invalid("enqueue", "no enqueue target selected")
		}
		if fd == nil {
			return p.invalid("enqueue", "frame descriptor required")
		}
		if d.tgtID > uapi.EqTarget.Max() {
			return p.invalid("enqueue", "target id exceeds 24 bits")
		}
		if d.target == eqTargetQD {
			if d.qdBin > uapi.EqQDBin.Max() || d.qdPrio > uapi.EqQDPrio.Max() {
				return p.invalid("enqueue", "queuing destination bin or priority out of range")
			}
		}
	}
	if d.action != EqActionNoORP {
		if d.orpID > uapi.EqORPID.Max() {
			return p.invalid("enqueue", "orp id exceeds 16 bits")
		}
		if d.seqnum > uapi.EqSeqnum.Max() {
			return p.invalid("enqueue", "sequence number exceeds 14 bits")
		}
	}
	if d.dca && d.dcaIdx >= p.dqrr.Size() {
		return p.invalid("enqueue", "DCA index beyond DQRR")
	}
	return nil
}

// encode fills descriptor words 0-7, leaving the valid bit clear.
func (d *EqDesc) encode(w []uint32) {
	switch d.action {
	case EqActionNoORP, EqActionORP:
		if d.respondSuccess {
			uapi.EqCmd.Set(w, uapi.EqCmdRespondAlways)
		} else {
			uapi.EqCmd.Set(w, uapi.EqCmdRespondReject)
		}
	default:
		uapi.EqCmd.Set(w, uapi.EqCmdEmpty)
	}

	if d.action != EqActionNoORP {
		uapi.EqORPEnable.SetBool(w, true)
		uapi.EqORPID.Set(w, d.orpID)
		uapi.EqSeqnum.Set(w, d.seqnum)
		uapi.EqNLIS.SetBool(w, d.action == EqActionORP && d.incomplete)
		uapi.EqIsNESN.SetBool(w, d.action == EqActionORPNESN)
	}

	if d.action.enqueues() {
		uapi.EqTargetQD.SetBool(w, d.target == eqTargetQD)
		uapi.EqTarget.Set(w, d.tgtID)
		if d.target == eqTargetQD {
			uapi.EqQDBin.Set(w, d.qdBin)
			uapi.EqQDPrio.Set(w, d.qdPrio)
		}
	}

	uapi.EqEQDI.SetBool(w, d.eqdi)
	uapi.EqDCAEnable.SetBool(w, d.dca)
	if d.dca {
		uapi.EqDCAIdx.Set(w, d.dcaIdx)
		uapi.EqDCAPark.SetBool(w, d.dcaPark)
	}

	uapi.EqRspStash.SetBool(w, d.rspStash)
	uapi.EqToken.Set(w, uint32(d.token))
	uapi.Set64(w, uapi.EqRspAddrWord, d.rspPhys)
}

// Words returns descriptor words 0-7 as the portal would see them, valid
// bit clear.
func (d *EqDesc) Words() [uapi.EqDescWords]uint32 {
	var w [uapi.EqDescWords]uint32
	d.encode(w[:])
	return w
}

// Enqueue submits d with frame fd. fd may be nil only for the ORP hole and
// NESN actions. ErrBusy means EQCR is full; retry after hardware consumes.
func (p *Portal) Enqueue(d *EqDesc, fd *FD) error {
	if err := d.validate(p, fd); err != nil {
		return err
	}

	if p.eqcr.Free() == 0 {
		p.eqcr.Sync(p.cinh.Read32(uapi.CINHEQCRCI))
		if p.eqcr.Free() == 0 {
			p.observer.ObserveEnqueue(false)
			return p.busy("enqueue", "EQCR full")
		}
	}

	var w [uapi.EntryWords]uint32
	d.encode(w[:uapi.EqDescWords])
	if fd != nil {
		copy(w[uapi.EqFDWord:], fd.w[:])
	}

	off := uapi.CENAEQCR(p.eqcr.Slot())
	for i := 1; i < uapi.EntryWords; i++ {
		p.cena.Store32(off+uint32(4*i), w[i])
	}
	p.cena.Store32(off, w[0]|p.eqcr.ValidBit())
	p.cena.Flush(off)

	p.cinh.Write32(uapi.CINHEQCRPI, p.eqcr.Advance())
	p.observer.ObserveEnqueue(true)
	return nil
}

// EqResponse is the 64-byte record written to the address given with
// EqDesc.SetResponse.
type EqResponse struct {
	w [uapi.EntryWords]uint32
}

// SetOldToken clears the response and stamps the sentinel token tok.
func (r *EqResponse) SetOldToken(tok uint8) {
	for j := range r.w {
		if j != uapi.DQTokenWord {
			atomic.StoreUint32(&r.w[j], 0)
		}
	}
	atomic.StoreUint32(&r.w[uapi.DQTokenWord], uapi.ToDevice(uint32(tok)<<24))
}

// HasNewToken reports whether the device has written a response carrying
// tok, converting it to host byte order when it has.
func (r *EqResponse) HasNewToken(tok uint8) bool {
	raw := atomic.LoadUint32(&r.w[uapi.DQTokenWord])
	if uapi.TokenFromRaw(raw) != tok {
		return false
	}
	uapi.Normalize(r.w[:])
	return true
}

// Result returns the EqResult* completion code.
func (r *EqResponse) Result() uint8 { return uint8(uapi.EqRspResult.Get(r.w[:])) }

func (r *EqResponse) Token() uint8 { return uint8(uapi.EqRspToken.Get(r.w[:])) }

func (r *EqResponse) Seqnum() uint16 { return uint16(uapi.EqRspSeqnum.Get(r.w[:])) }

func (r *EqResponse) ORPID() uint16 { return uint16(uapi.EqRspORPID.Get(r.w[:])) }

// Target returns the FQ or QD the command addressed.
func (r *EqResponse) Target() uint32 { return uapi.EqRspTarget.Get(r.w[:]) }
