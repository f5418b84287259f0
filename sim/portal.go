package sim

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// Portal is one simulated software portal. It implements both the register
// window (Read32/Write32) and the ring memory window (Load32/Store32/Flush/
// Invalidate) of the driver.
type Portal struct {
	e   *Engine
	idx int

	cena [uapi.CENASize / 4]uint32

	// Register file; guarded by e.mu.
	cfg      uint32
	disabled bool
	eqcrPI   uint32
	eqcrCI   uint32
	rcrPI    uint32
	rcrCI    uint32
	sdqcr    uint32
	isr      uint32
	ier      uint32
	isdr     uint32
	iir      uint32
	itpr     uint32
	dqrrITR  uint32
	eqcrITR  uint32
	rcrITR   uint32

	dqrr struct {
		depth uint32
		pi    uint32
		vb    uint32
		slots []dqrrSlot
	}

	// Commands flushed but not yet executed (Manual mode).
	vdqFlushed bool
	crFlushed  bool

	pull    *pullState
	push    [constants.PushChannels]*channel
	pushRR  int
	backlog [][uapi.EntryWords]uint32

	irq irqLine
}

type dqrrSlot struct {
	busy bool
	held *fq
}

type pullState struct {
	scope  uint32
	source uint32
	active bool
	rls    bool
	addr   uint64
	token  uint8
	left   int
	count  int
}

func newPortal(e *Engine, idx int) *Portal {
	p := &Portal{e: e, idx: idx}
	p.dqrr.depth = constants.DQRRDepthV4100
	if e.cfg.Revision < constants.RevisionV4100 {
		p.dqrr.depth = constants.DQRRDepthV4000
	}
	p.reset()
	return p
}

// reset puts the portal in its power-on state.
func (p *Portal) reset() {
	for i := range p.cena {
		atomic.StoreUint32(&p.cena[i], 0)
	}
	p.eqcrPI, p.eqcrCI = 0, 0
	p.rcrPI, p.rcrCI = 0, 0
	p.sdqcr = 0
	p.isr = 0
	p.dqrr.pi = 0
	p.dqrr.vb = uapi.ValidBit
	p.dqrr.slots = make([]dqrrSlot, p.dqrr.depth)
	p.vdqFlushed, p.crFlushed = false, false
	p.pull = nil
	p.backlog = nil
}

// Index returns the portal number.
func (p *Portal) Index() int { return p.idx }

// Disable makes the portal ignore its configuration, so that CFG reads back
// as zero.
func (p *Portal) Disable() {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	p.disabled = true
	p.cfg = 0
}

// Load32 reads a ring memory word.
func (p *Portal) Load32(off uint32) uint32 {
	return atomic.LoadUint32(&p.cena[off/4])
}

// Store32 writes a ring memory word.
func (p *Portal) Store32(off, val uint32) {
	atomic.StoreUint32(&p.cena[off/4], val)
}

// Flush publishes a line. Flushing the pull or management command line
// hands the command to the engine.
func (p *Portal) Flush(off uint32) {
	line := off &^ (uapi.LineSize - 1)
	if line != uapi.CENAVDQCR && line != uapi.CENACR {
		return
	}
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	if line == uapi.CENACR {
		// The response register is cleared as soon as the command is seen.
		vb := p.Load32(uapi.CENACR) & uapi.ValidBit
		rr := uapi.CENARR(vb)
		for i := uint32(0); i < uapi.EntryWords; i++ {
			p.Store32(rr+4*i, 0)
		}
		p.crFlushed = true
	} else {
		p.vdqFlushed = true
	}
	if !p.e.cfg.Manual {
		p.consumeAll()
		p.e.serviceAll()
	}
}

// Invalidate is a no-op: the simulated memory is coherent.
func (p *Portal) Invalidate(off uint32) {}

// Read32 reads a register.
func (p *Portal) Read32(off uint32) uint32 {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	switch off {
	case uapi.CINHCFG:
		return p.cfg
	case uapi.CINHEQCRPI:
		return p.eqcrPI
	case uapi.CINHEQCRCI:
		return p.eqcrCI
	case uapi.CINHRCRPI:
		return p.rcrPI
	case uapi.CINHRCRCI:
		return p.rcrCI
	case uapi.CINHDQPI:
		return p.dqrr.pi
	case uapi.CINHSDQCR:
		return p.sdqcr
	case uapi.CINHISR:
		return p.isr
	case uapi.CINHIER:
		return p.ier
	case uapi.CINHISDR:
		return p.isdr
	case uapi.CINHIIR:
		return p.iir
	case uapi.CINHITPR:
		return p.itpr
	case uapi.CINHDQRRITR:
		return p.dqrrITR
	case uapi.CINHEQCRITR:
		return p.eqcrITR
	case uapi.CINHRCRITR:
		return p.rcrITR
	}
	p.e.protocolError("portal %d: read of unknown register %#x", p.idx, off)
	return 0
}

// Write32 writes a register. Doorbells and DCAP drive the engine.
func (p *Portal) Write32(off, val uint32) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()

	switch off {
	case uapi.CINHCFG:
		if p.disabled {
			return
		}
		if val&uapi.CFGEnable != 0 && p.cfg&uapi.CFGEnable == 0 {
			p.reset()
		}
		p.cfg = val
	case uapi.CINHEQCRPI:
		p.eqcrPI = val % (2 * constants.EQCRDepth)
		if !p.e.cfg.Manual {
			p.consumeEQCR()
		}
	case uapi.CINHRCRPI:
		p.rcrPI = val % (2 * constants.RCRDepth)
		if !p.e.cfg.Manual {
			p.consumeRCR()
		}
	case uapi.CINHDCAP:
		p.consumeSlot(val&0xf, false)
	case uapi.CINHSDQCR:
		p.sdqcr = val
	case uapi.CINHISR:
		p.isr &^= val
	case uapi.CINHIER:
		p.ier = val
	case uapi.CINHISDR:
		p.isdr = val
	case uapi.CINHIIR:
		p.iir = val
	case uapi.CINHITPR:
		p.itpr = val & constants.MaxTimeoutUnits
	case uapi.CINHDQRRITR:
		p.dqrrITR = val
	case uapi.CINHEQCRITR:
		p.eqcrITR = val
	case uapi.CINHRCRITR:
		p.rcrITR = val
	default:
		p.e.protocolError("portal %d: write of unknown register %#x", p.idx, off)
		return
	}
	p.e.serviceAll()
	p.updateIRQ()
}

// consumeAll executes every command handed over so far.
func (p *Portal) consumeAll() {
	p.consumeEQCR()
	p.consumeRCR()
	if p.crFlushed {
		p.crFlushed = false
		p.execManagement()
	}
	if p.vdqFlushed {
		p.vdqFlushed = false
		p.startPull()
	}
}

// consumeSlot frees a DQRR slot. A held-active FQ is released, or parked
// when park is set.
func (p *Portal) consumeSlot(idx uint32, park bool) {
	if idx >= p.dqrr.depth {
		p.e.protocolError("portal %d: consume of slot %d beyond DQRR", p.idx, idx)
		return
	}
	s := &p.dqrr.slots[idx]
	if !s.busy {
		p.e.protocolError("portal %d: consume of free slot %d", p.idx, idx)
		return
	}
	if f := s.held; f != nil {
		f.held = false
		if park {
			f.state = fqParked
			p.e.notify(f.notify, uapi.VerbFQPN, f.id, 0, f.ctx)
		}
	}
	*s = dqrrSlot{}
}

func (p *Portal) raise(bits uint32) {
	p.isr |= bits &^ p.isdr
}

// updateIRQ recomputes threshold sources and signals the interrupt line.
func (p *Portal) updateIRQ() {
	if p.dqrrFill() > p.dqrrITR {
		p.raise(uapi.IntDQRI)
	}
	asserted := p.isr&p.ier != 0 && p.iir == 0
	p.irq.update(asserted)
}

func (p *Portal) dqrrFill() uint32 {
	var n uint32
	for _, s := range p.dqrr.slots {
		if s.busy {
			n++
		}
	}
	return n
}
