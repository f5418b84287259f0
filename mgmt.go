package qbman

import (
	"errors"
	"time"

	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// command issues a management command through CR and polls for its
// response. Only one command may be outstanding: if the response does not
// show up within the poll budget the command stays pending, ErrNotReady is
// returned, and CompletePending must be used to collect it.
func (p *Portal) command(op string, verb uint8, cmd []uint32) (*[uapi.EntryWords]uint32, error) {
	if p.mc.pending {
		return nil, p.busy(op, "management command "+p.mc.op+" still pending")
	}

	for i := 1; i < uapi.EntryWords; i++ {
		p.cena.Store32(uapi.CENACR+uint32(4*i), cmd[i])
	}
	p.cena.Store32(uapi.CENACR, cmd[0]&^0xff|uint32(verb)|p.mc.vb)
	p.cena.Flush(uapi.CENACR)

	p.mc.pending = true
	p.mc.verb = verb
	p.mc.op = op
	p.mc.start = time.Now().UnixNano()

	return p.pollResponse()
}

func (p *Portal) pollResponse() (*[uapi.EntryWords]uint32, error) {
	off := uapi.CENARR(p.mc.vb)
	for i := 0; i < p.mcBudget; i++ {
		p.cena.Invalidate(off)
		w0 := p.cena.Load32(off)
		if w0&uapi.VerbMask == 0 {
			continue
		}

		var rsp [uapi.EntryWords]uint32
		rsp[0] = w0
		for j := 1; j < uapi.EntryWords; j++ {
			rsp[j] = p.cena.Load32(off + uint32(4*j))
		}
		p.mc.vb ^= uapi.ValidBit
		p.mc.pending = false

		latency := uint64(time.Now().UnixNano() - p.mc.start)
		rc := uint8(uapi.MCResult.Get(rsp[:]))
		ok := rc == uapi.ResultOK
		p.observer.ObserveCommand(p.mc.verb, latency, ok)
		if !ok {
			p.log.WithCommand(p.mc.verb, p.mc.op).Warn("management command failed", "rc", rc)
			return nil, NewCommandError(p.mc.op, p.desc.Index, p.mc.verb, rc)
		}
		return &rsp, nil
	}
	return nil, NewPortalError(p.mc.op, p.desc.Index, ErrCodeNotReady, "management response not yet available")
}

// MCPending reports whether a management command is awaiting its response.
func (p *Portal) MCPending() bool {
	return p.mc.pending
}

// CompletePending polls once more for a management command that earlier
// returned ErrNotReady. For a pending Acquire it returns the number of
// buffers written into the slice originally passed to Acquire. With nothing
// pending it returns 0, nil.
func (p *Portal) CompletePending() (int, error) {
	if !p.mc.pending {
		return 0, nil
	}
	verb := p.mc.verb
	rsp, err := p.pollResponse()
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			p.mc.acqDst = nil
		}
		return 0, err
	}
	if verb == uapi.MCAcquire {
		return p.acquired(rsp)
	}
	return 0, nil
}

func (p *Portal) fqCommand(op string, verb uint8, fqid uint32) error {
	if fqid > uapi.MCFQID.Max() {
		return p.invalid(op, "fq id exceeds 24 bits")
	}
	var cmd [uapi.EntryWords]uint32
	uapi.MCFQID.Set(cmd[:], fqid)
	_, err := p.command(op, verb, cmd[:])
	return err
}

// FQSchedule schedules a parked frame queue.
func (p *Portal) FQSchedule(fqid uint32) error {
	return p.fqCommand("fq_schedule", uapi.MCFQSched, fqid)
}

// FQForce makes a tentatively scheduled FQ truly scheduled, so channel
// dequeues can select it. If it is still empty when selected, the result
// carries no frame.
func (p *Portal) FQForce(fqid uint32) error {
	return p.fqCommand("fq_force", uapi.MCFQForce, fqid)
}

// FQXon lets a frame queue be scheduled for dequeue again. XON is the default.
func (p *Portal) FQXon(fqid uint32) error {
	return p.fqCommand("fq_xon", uapi.MCFQXon, fqid)
}

// FQXoff keeps a frame queue tentatively scheduled so it is not selected
// for dequeue. Enqueues are unaffected. A dequeue racing the XOFF yields a
// result without a frame.
func (p *Portal) FQXoff(fqid uint32) error {
	return p.fqCommand("fq_xoff", uapi.MCFQXoff, fqid)
}

func (p *Portal) cdanCommand(op string, channel uint16, we, ctrl uint8, ctx uint64) error {
	var cmd [uapi.EntryWords]uint32
	uapi.MCChannel.Set(cmd[:], uint32(channel))
	uapi.MCCDANWE.Set(cmd[:], uint32(we))
	uapi.MCCDANCtrl.Set(cmd[:], uint32(ctrl))
	uapi.Set64(cmd[:], uapi.MCCDANCtxWord, ctx)
	_, err := p.command(op, uapi.MCWQChanCfg, cmd[:])
	return err
}

// CDANSetContext sets the context carried by the channel's CDANs.
func (p *Portal) CDANSetContext(channel uint16, ctxHi, ctxLo uint32) error {
	ctx := uint64(ctxHi)<<32 | uint64(ctxLo)
	return p.cdanCommand("cdan_set_context", channel, uapi.CDANWECtx, 0, ctx)
}

// CDANEnable arms the channel for one CDAN. It must be re-armed after each
// notification.
func (p *Portal) CDANEnable(channel uint16) error {
	return p.cdanCommand("cdan_enable", channel, uapi.CDANWEEnable, 1, 0)
}

// CDANDisable disarms the channel.
func (p *Portal) CDANDisable(channel uint16) error {
	return p.cdanCommand("cdan_disable", channel, uapi.CDANWEEnable, 0, 0)
}

// CDANSetContextEnable sets the context and arms the channel in a single
// command.
func (p *Portal) CDANSetContextEnable(channel uint16, ctxHi, ctxLo uint32) error {
	ctx := uint64(ctxHi)<<32 | uint64(ctxLo)
	return p.cdanCommand("cdan_set_context_enable", channel, uapi.CDANWEEnable|uapi.CDANWECtx, 1, ctx)
}
