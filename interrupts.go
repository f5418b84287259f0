package qbman

import (
	"math"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// InterruptGetVanish returns the status-disable mask: sources set here never
// latch in the status register.
func (p *Portal) InterruptGetVanish() uint32 {
	return p.cinh.Read32(uapi.CINHISDR)
}

func (p *Portal) InterruptSetVanish(mask uint32) {
	p.cinh.Write32(uapi.CINHISDR, mask)
}

// InterruptReadStatus returns the latched interrupt sources.
func (p *Portal) InterruptReadStatus() uint32 {
	return p.cinh.Read32(uapi.CINHISR)
}

// InterruptClearStatus clears the latched sources in mask (write one to clear).
func (p *Portal) InterruptClearStatus(mask uint32) {
	p.cinh.Write32(uapi.CINHISR, mask)
}

// InterruptGetTrigger returns the mask of sources that assert the line.
func (p *Portal) InterruptGetTrigger() uint32 {
	return p.cinh.Read32(uapi.CINHIER)
}

func (p *Portal) InterruptSetTrigger(mask uint32) {
	p.cinh.Write32(uapi.CINHIER, mask)
}

// InterruptGetInhibit reports whether the interrupt line is globally inhibited.
func (p *Portal) InterruptGetInhibit() bool {
	return p.cinh.Read32(uapi.CINHIIR) != 0
}

func (p *Portal) InterruptSetInhibit(inhibit bool) {
	var v uint32
	if inhibit {
		v = uapi.InhibitAll
	}
	p.cinh.Write32(uapi.CINHIIR, v)
}

// DequeueThresh sets the DQRR fill level above which DQRI asserts. It must
// not exceed the ring depth.
func (p *Portal) DequeueThresh(n uint32) error {
	if n > p.dqrr.Size() {
		return p.invalid("dequeue_thresh", "threshold exceeds DQRR depth")
	}
	p.cinh.Write32(uapi.CINHDQRRITR, n)
	return nil
}

// EnqueueThresh sets the EQCR fill level below which EQRI asserts. Zero
// disables the source.
func (p *Portal) EnqueueThresh(n uint32) error {
	if n > p.eqcr.Size() {
		return p.invalid("enqueue_thresh", "threshold exceeds EQCR depth")
	}
	p.cinh.Write32(uapi.CINHEQCRITR, n)
	return nil
}

// ReleaseThresh sets the RCR fill level below which RCRI asserts. Zero
// disables the source.
func (p *Portal) ReleaseThresh(n uint32) error {
	if n > p.rcr.Size() {
		return p.invalid("release_thresh", "threshold exceeds RCR depth")
	}
	p.cinh.Write32(uapi.CINHRCRITR, n)
	return nil
}

// QuantizeTimeout converts a nanosecond holdoff into quantum units, rounding
// to the nearest unit. ok is false when the result does not fit the 12-bit
// holdoff field.
func QuantizeTimeout(ns, quantumNs uint32) (units uint32, ok bool) {
	if quantumNs == 0 {
		return 0, false
	}
	u := (uint64(ns) + uint64(quantumNs)/2) / uint64(quantumNs)
	if u > constants.MaxTimeoutUnits {
		return 0, false
	}
	return uint32(u), true
}

// DequeueSetTimeout sets how long DQRR may stay non-empty before DQRI
// asserts. The hardware value is quantized; DequeueGetTimeout reports the
// timeout actually in effect.
func (p *Portal) DequeueSetTimeout(ns uint32) error {
	units, ok := QuantizeTimeout(ns, p.quantum)
	if !ok {
		return p.invalid("dequeue_set_timeout", "timeout out of range")
	}
	p.cinh.Write32(uapi.CINHITPR, units)
	return nil
}

// DequeueGetTimeout returns the programmed holdoff in nanoseconds.
func (p *Portal) DequeueGetTimeout() uint32 {
	units := p.cinh.Read32(uapi.CINHITPR) & constants.MaxTimeoutUnits
	return uint32(min(uint64(units)*uint64(p.quantum), math.MaxUint32))
}
