package qbman

import (
	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// PullType selects how a WQ or channel pull chooses among its frame queues.
type PullType uint8

const (
	// PullTypePrio dequeues with priority precedence, respecting
	// intra-class scheduling.
	PullTypePrio PullType = iota
	// PullTypeActive gives precedence to the active FQ, respecting ICS.
	PullTypeActive
	// PullTypeActiveNoICS gives precedence to the active FQ, ignoring ICS.
	PullTypeActiveNoICS
)

// PullScope identifies what a pull dequeues from.
type PullScope uint8

const (
	PullScopeNone PullScope = iota
	PullScopeFQ
	PullScopeWQ
	PullScopeChannel
)

// PullDesc describes a volatile (pull) dequeue. The zero value is the
// cleared descriptor: results to DQRR, one frame, token zero, no target.
type PullDesc struct {
	scope     PullScope
	id        uint32
	dct       PullType
	storage   []DQEntry
	phys      uint64
	stash     bool
	frames    uint8
	framesSet bool
	token     uint8
}

// NewPullDesc returns a cleared descriptor.
func NewPullDesc() *PullDesc {
	return &PullDesc{}
}

// Clear restores the default state.
func (d *PullDesc) Clear() {
	*d = PullDesc{}
}

// SetStorage directs results to caller memory instead of DQRR. storage is
// the host view of the memory whose DMA address is phys; stash requests
// cache-warming writes. A nil storage reverts to DQRR delivery.
func (d *PullDesc) SetStorage(storage []DQEntry, phys uint64, stash bool) {
	if storage == nil {
		d.storage, d.phys, d.stash = nil, 0, false
		return
	}
	d.storage, d.phys, d.stash = storage, phys, stash
}

// SetNumFrames sets how many frames the pull may return (1 to 16).
func (d *PullDesc) SetNumFrames(n uint8) {
	d.frames = n
	d.framesSet = true
}

// SetToken sets the token written into every result of this pull.
func (d *PullDesc) SetToken(tok uint8) {
	d.token = tok
}

// SetFQ targets a single frame queue.
func (d *PullDesc) SetFQ(fqid uint32) {
	d.scope, d.id, d.dct = PullScopeFQ, fqid, PullTypePrio
}

// SetWQ targets any frame queue of a work queue.
func (d *PullDesc) SetWQ(wqid uint32, dct PullType) {
	d.scope, d.id, d.dct = PullScopeWQ, wqid, dct
}

// SetChannel targets any frame queue of any work queue in a channel.
func (d *PullDesc) SetChannel(chid uint32, dct PullType) {
	d.scope, d.id, d.dct = PullScopeChannel, chid, dct
}

// NumFrames returns the requested frame count.
func (d *PullDesc) NumFrames() uint8 {
	if !d.framesSet {
		return 1
	}
	return d.frames
}

func (d *PullDesc) Token() uint8 { return d.token }

// Storage returns the result storage, nil when results go to DQRR.
func (d *PullDesc) Storage() ([]DQEntry, uint64) { return d.storage, d.phys }

func (d *PullDesc) Stash() bool { return d.stash }

// Scope returns the target kind, id and precedence mode.
func (d *PullDesc) Scope() (PullScope, uint32, PullType) {
	return d.scope, d.id, d.dct
}

func (d *PullDesc) validate(p *Portal) error {
	n := d.NumFrames()
	if n < 1 || n > constants.MaxPullFrames {
		return p.invalid("pull", "frame count must be between 1 and 16")
	}
	switch d.scope {
	case PullScopeNone:
		return p.invalid("pull", "no pull target selected")
	case PullScopeWQ, PullScopeChannel:
		if d.dct > PullTypeActiveNoICS {
			return p.invalid("pull", "unknown precedence mode")
		}
	}
	if d.id > uapi.PullSource.Max() {
		return p.invalid("pull", "target id exceeds 24 bits")
	}
	if d.storage != nil && len(d.storage) < int(n) {
		return p.invalid("pull", "storage smaller than frame count")
	}
	return nil
}

// encode fills the command words, leaving the valid bit clear.
func (d *PullDesc) encode(w []uint32) {
	var dt uint32
	switch d.scope {
	case PullScopeFQ:
		dt = uapi.PullDTFQ
	case PullScopeWQ:
		dt = uapi.PullDTWQ
	case PullScopeChannel:
		dt = uapi.PullDTChannel
	}
	uapi.PullDCT.Set(w, uint32(d.dct))
	uapi.PullDT.Set(w, dt)
	uapi.PullRLS.SetBool(w, d.storage != nil)
	uapi.PullStash.SetBool(w, d.stash)
	uapi.PullNumFrames.Set(w, uint32(d.NumFrames())-1)
	uapi.PullToken.Set(w, uint32(d.token))
	uapi.PullSource.Set(w, d.id)
	uapi.Set64(w, uapi.PullRspAddrWord, d.phys)
}

// Words returns the command as the portal would see it, valid bit clear.
func (d *PullDesc) Words() [uapi.PullWords]uint32 {
	var w [uapi.PullWords]uint32
	d.encode(w[:])
	return w
}

// Pull issues a volatile dequeue. Only one pull may be outstanding per
// portal; a second one fails with ErrBusy until the first has produced its
// final (expired) result.
func (p *Portal) Pull(d *PullDesc) error {
	if err := d.validate(p); err != nil {
		return err
	}
	if p.vdq.busy {
		p.observer.ObservePull(false)
		return p.busy("pull", "a pull is already in flight")
	}

	var w [uapi.PullWords]uint32
	d.encode(w[:])

	for i := 1; i < uapi.PullWords; i++ {
		p.cena.Store32(uapi.CENAVDQCR+uint32(4*i), w[i])
	}
	p.cena.Store32(uapi.CENAVDQCR, w[0]|p.vdq.vb)
	p.cena.Flush(uapi.CENAVDQCR)

	p.vdq.vb ^= uapi.ValidBit
	p.vdq.busy = true
	p.observer.ObservePull(true)
	return nil
}

// PullBusy reports whether a pull is still in flight.
func (p *Portal) PullBusy() bool {
	return p.vdq.busy
}

// PushGet reports whether push dequeues from channel index idx are enabled.
func (p *Portal) PushGet(idx uint8) bool {
	if idx >= constants.PushChannels {
		return false
	}
	return p.sdq&(1<<idx) != 0
}

// PushSet enables or disables push dequeues from channel index idx (0-15).
func (p *Portal) PushSet(idx uint8, enable bool) error {
	if idx >= constants.PushChannels {
		return p.invalid("push_set", "channel index out of range")
	}
	if enable {
		p.sdq |= 1 << idx
	} else {
		p.sdq &^= 1 << idx
	}
	if p.sdq&uapi.SDQCRSrcMask == 0 {
		p.cinh.Write32(uapi.CINHSDQCR, 0)
	} else {
		p.cinh.Write32(uapi.CINHSDQCR, p.sdq)
	}
	return nil
}
