package sim

import (
	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

func (p *Portal) readLine(off uint32) [uapi.EntryWords]uint32 {
	var w [uapi.EntryWords]uint32
	for i := range w {
		w[i] = p.Load32(off + uint32(4*i))
	}
	return w
}

// ringValid returns the valid bit a command at consumer index ci carries.
func ringValid(ci, depth uint32) uint32 {
	if ci < depth {
		return uapi.ValidBit
	}
	return 0
}

func (p *Portal) consumeEQCR() {
	const depth = constants.EQCRDepth
	consumed := false
	for p.eqcrCI != p.eqcrPI {
		w := p.readLine(uapi.CENAEQCR(p.eqcrCI % depth))
		if w[0]&uapi.ValidBit != ringValid(p.eqcrCI, depth) {
			p.e.protocolError("portal %d: EQCR slot %d has a stale valid bit", p.idx, p.eqcrCI%depth)
			break
		}
		p.execEnqueue(w)
		p.eqcrCI = (p.eqcrCI + 1) % (2 * depth)
		consumed = true
	}
	if consumed && p.eqcrITR != 0 && p.fill(p.eqcrPI, p.eqcrCI, depth) < p.eqcrITR {
		p.raise(uapi.IntEQRI)
	}
}

func (p *Portal) consumeRCR() {
	const depth = constants.RCRDepth
	consumed := false
	for p.rcrCI != p.rcrPI {
		w := p.readLine(uapi.CENARCR(p.rcrCI % depth))
		if w[0]&uapi.ValidBit != ringValid(p.rcrCI, depth) {
			p.e.protocolError("portal %d: RCR slot %d has a stale valid bit", p.idx, p.rcrCI%depth)
			break
		}
		p.execRelease(w)
		p.rcrCI = (p.rcrCI + 1) % (2 * depth)
		consumed = true
	}
	if consumed && p.rcrITR != 0 && p.fill(p.rcrPI, p.rcrCI, depth) < p.rcrITR {
		p.raise(uapi.IntRCRI)
	}
}

func (p *Portal) fill(pi, ci, depth uint32) uint32 {
	return (pi + 2*depth - ci) % (2 * depth)
}

func (p *Portal) execEnqueue(w [uapi.EntryWords]uint32) {
	e := p.e
	cmd := uapi.EqCmd.Get(w[:])
	rc := uint8(uapi.ResultOK)

	var fr frame
	copy(fr.fd[:], w[uapi.EqFDWord:])

	var target *fq
	if cmd != uapi.EqCmdEmpty {
		target, rc = e.resolveTarget(w[:])
	}

	if rc == uapi.ResultOK {
		if uapi.EqORPEnable.GetBool(w[:]) {
			rc = e.restore(w[:], cmd, target, fr)
		} else if target != nil {
			e.enqueueFrame(target, fr)
		}
	}

	if uapi.EqDCAEnable.GetBool(w[:]) {
		p.consumeSlot(uapi.EqDCAIdx.Get(w[:]), uapi.EqDCAPark.GetBool(w[:]))
	}
	if uapi.EqEQDI.GetBool(w[:]) {
		p.raise(uapi.IntEQDI)
	}

	addr := uapi.Get64(w[:], uapi.EqRspAddrWord)
	respond := cmd == uapi.EqCmdRespondAlways ||
		(cmd == uapi.EqCmdRespondReject && rc != uapi.ResultOK)
	if addr != 0 && respond {
		var r [uapi.EntryWords]uint32
		r[0] = 0x60 // enqueue response verb
		uapi.EqRspResult.Set(r[:], uint32(rc))
		uapi.EqRspSeqnum.Set(r[:], uapi.EqSeqnum.Get(w[:]))
		uapi.EqRspORPID.Set(r[:], uapi.EqORPID.Get(w[:]))
		uapi.EqRspToken.Set(r[:], uapi.EqToken.Get(w[:]))
		uapi.EqRspTarget.Set(r[:], uapi.EqTarget.Get(w[:]))
		e.dmaWrite(addr, &r)
	}
}

func (e *Engine) resolveTarget(w []uint32) (*fq, uint8) {
	id := uapi.EqTarget.Get(w)
	if uapi.EqTargetQD.GetBool(w) {
		q, ok := e.qds[id]
		if !ok {
			return nil, uapi.ResultNoSuchObject
		}
		fqid, ok := q.lookup(uapi.EqQDPrio.Get(w), uapi.EqQDBin.Get(w))
		if !ok {
			return nil, uapi.ResultNoSuchObject
		}
		id = fqid
	}
	f, ok := e.fqs[id]
	if !ok {
		return nil, uapi.ResultNoSuchObject
	}
	if f.state == fqRetired {
		return nil, uapi.ResultBadState
	}
	return f, uapi.ResultOK
}

// restore runs the ORP side of an enqueue command.
func (e *Engine) restore(w []uint32, cmd uint32, target *fq, fr frame) uint8 {
	o, ok := e.orps[uapi.EqORPID.Get(w)]
	if !ok {
		return uapi.ResultNoSuchObject
	}
	seq := uapi.EqSeqnum.Get(w)

	var released []fragment
	switch {
	case cmd != uapi.EqCmdEmpty:
		if !o.submit(seq, uapi.EqNLIS.GetBool(w), target, fr) {
			return uapi.ResultSeqRejected
		}
	case uapi.EqIsNESN.GetBool(w):
		out, ok := o.skip(seq)
		if !ok {
			return uapi.ResultSeqRejected
		}
		released = out
	default:
		if !o.hole(seq) {
			return uapi.ResultSeqRejected
		}
	}
	released = append(released, o.drain()...)
	for _, fg := range released {
		if fg.target != nil {
			e.enqueueFrame(fg.target, fg.fr)
		}
	}
	return uapi.ResultOK
}

// enqueueFrame appends a frame to f and raises the availability
// notifications its arrival triggers.
func (e *Engine) enqueueFrame(f *fq, fr frame) {
	wasEmpty := len(f.frames) == 0
	f.push(fr)
	e.enqueued.Add(1)

	if f.dan && f.state == fqParked && wasEmpty {
		e.notify(f.notify, uapi.VerbFQDAN, f.id, 0, f.ctx)
	}
	if ch := f.ch; ch != nil && ch.cdanArmd && f.trulyScheduled() {
		ch.cdanArmd = false
		e.notify(ch.notify, uapi.VerbCDAN, ch.id, 0, ch.cdanCtx)
	}
}

func (p *Portal) execRelease(w [uapi.EntryWords]uint32) {
	e := p.e
	bpid := uapi.RelBPID.Get(w[:])
	bp, ok := e.pools[bpid]
	if !ok {
		e.protocolError("portal %d: release to unknown pool %d", p.idx, bpid)
		return
	}
	n := int(uapi.RelNum.Get(w[:]))
	for i := 0; i < n; i++ {
		bp.bufs = append(bp.bufs, uapi.Get64(w[:], uapi.RelBufWord+2*i))
	}
	e.poolChanged(bp)
	if uapi.RelRCDI.GetBool(w[:]) {
		p.raise(uapi.IntRCDI)
	}
}

func (e *Engine) poolChanged(bp *pool) {
	if !bp.stateChanged() {
		return
	}
	var state uint8
	if bp.depleted {
		state = 1
	}
	e.notify(bp.notify, uapi.VerbBPSCN, bp.id, state, bp.ctx)
}

// execManagement runs the command in CR and writes its response to the
// response register selected by the command's valid bit.
func (p *Portal) execManagement() {
	e := p.e
	cmd := p.readLine(uapi.CENACR)
	vb := cmd[0] & uapi.ValidBit
	verb := uint8(uapi.Verb.Get(cmd[:]))

	var rsp [uapi.EntryWords]uint32
	rc := uint8(uapi.ResultOK)

	switch verb {
	case uapi.MCFQSched, uapi.MCFQForce, uapi.MCFQXon, uapi.MCFQXoff:
		rc = e.fqControl(verb, uapi.MCFQID.Get(cmd[:]))
		uapi.MCFQID.Set(rsp[:], uapi.MCFQID.Get(cmd[:]))
	case uapi.MCWQChanCfg:
		rc = e.channelConfig(cmd[:])
		uapi.MCChannel.Set(rsp[:], uapi.MCChannel.Get(cmd[:]))
	case uapi.MCAcquire:
		bp, ok := e.pools[uapi.MCAcqBPID.Get(cmd[:])]
		if !ok {
			rc = uapi.ResultNoSuchObject
			break
		}
		bufs := bp.take(int(uapi.MCAcqNum.Get(cmd[:])))
		uapi.MCAcqRspNum.Set(rsp[:], uint32(len(bufs)))
		for i, b := range bufs {
			uapi.Set64(rsp[:], uapi.MCAcqBufWord+2*i, b)
		}
		e.poolChanged(bp)
	default:
		e.protocolError("portal %d: unknown management verb %#x", p.idx, verb)
		rc = uapi.ResultBadState
	}

	uapi.MCResult.Set(rsp[:], uint32(rc))
	off := uapi.CENARR(vb)
	for i := 1; i < uapi.EntryWords; i++ {
		p.Store32(off+uint32(4*i), rsp[i])
	}
	p.Store32(off, rsp[0]|uint32(verb))
}

func (e *Engine) fqControl(verb uint8, fqid uint32) uint8 {
	f, ok := e.fqs[fqid]
	if !ok {
		return uapi.ResultNoSuchObject
	}
	if f.state == fqRetired {
		return uapi.ResultBadState
	}
	switch verb {
	case uapi.MCFQSched:
		if f.state != fqParked {
			return uapi.ResultBadState
		}
		f.state = fqScheduled
	case uapi.MCFQForce:
		if f.state != fqScheduled {
			return uapi.ResultBadState
		}
		f.forced = true
	case uapi.MCFQXon:
		f.xoff = false
		f.xoffRace = false
	case uapi.MCFQXoff:
		if f.trulyScheduled() && !f.xoff {
			f.xoffRace = true
		}
		f.xoff = true
	}
	if ch := f.ch; ch != nil && ch.cdanArmd && f.trulyScheduled() && !f.xoffRace {
		ch.cdanArmd = false
		e.notify(ch.notify, uapi.VerbCDAN, ch.id, 0, ch.cdanCtx)
	}
	return uapi.ResultOK
}

func (e *Engine) channelConfig(cmd []uint32) uint8 {
	ch, ok := e.channels[uapi.MCChannel.Get(cmd)]
	if !ok {
		return uapi.ResultNoSuchObject
	}
	we := uapi.MCCDANWE.Get(cmd)
	if we&uapi.CDANWECtx != 0 {
		ch.cdanCtx = uapi.Get64(cmd, uapi.MCCDANCtxWord)
	}
	if we&uapi.CDANWEEnable != 0 {
		ch.cdanArmd = uapi.MCCDANCtrl.Get(cmd)&1 != 0
	}
	// Arming a channel that already has work notifies at once.
	if ch.cdanArmd && ch.hasWork() {
		ch.cdanArmd = false
		e.notify(ch.notify, uapi.VerbCDAN, ch.id, 0, ch.cdanCtx)
	}
	return uapi.ResultOK
}

// startPull accepts the command in VDQCR.
func (p *Portal) startPull() {
	w := p.readLine(uapi.CENAVDQCR)
	if p.pull != nil {
		p.e.protocolError("portal %d: pull issued while another is in flight", p.idx)
		return
	}
	p.pull = &pullState{
		scope:  uapi.PullDT.Get(w[:]),
		source: uapi.PullSource.Get(w[:]),
		active: uapi.PullDCT.Get(w[:]) != 0,
		rls:    uapi.PullRLS.GetBool(w[:]),
		addr:   uapi.Get64(w[:], uapi.PullRspAddrWord),
		token:  uint8(uapi.PullToken.Get(w[:])),
		left:   int(uapi.PullNumFrames.Get(w[:])) + 1,
	}
}
