package sim

import (
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// notify queues a notification for portal idx; negative idx drops it.
func (e *Engine) notify(idx int, verb uint8, resource uint32, state uint8, ctx uint64) {
	if idx < 0 || idx >= len(e.portals) {
		return
	}
	var w [uapi.EntryWords]uint32
	uapi.Verb.Set(w[:], uint32(verb))
	uapi.Stat.Set(w[:], uint32(state))
	uapi.DQFQID.Set(w[:], resource)
	uapi.Set64(w[:], uapi.DQCtxLoWord, ctx)
	p := e.portals[idx]
	p.backlog = append(p.backlog, w)
}

// service fills free DQRR slots: pending notifications first, then results
// of the in-flight pull, then push dequeues.
func (p *Portal) service() {
	for len(p.backlog) > 0 && p.dqrrFree() {
		p.dqrrWrite(p.backlog[0], nil)
		p.backlog = p.backlog[1:]
	}
	p.servicePull()
	p.servicePush()
	p.updateIRQ()
}

func (p *Portal) dqrrFree() bool {
	return !p.dqrr.slots[p.dqrr.pi].busy
}

// dqrrWrite produces an entry into the next DQRR slot, word 0 last.
func (p *Portal) dqrrWrite(w [uapi.EntryWords]uint32, held *fq) {
	slot := p.dqrr.pi
	off := uapi.CENADQRR(slot)
	for i := 1; i < uapi.EntryWords; i++ {
		p.Store32(off+uint32(4*i), w[i])
	}
	p.Store32(off, w[0]&^uapi.ValidBit|p.dqrr.vb)
	p.dqrr.slots[slot] = dqrrSlot{busy: true, held: held}

	p.dqrr.pi++
	if p.dqrr.pi == p.dqrr.depth {
		p.dqrr.pi = 0
		p.dqrr.vb ^= uapi.ValidBit
	}
}

// pullSource returns the FQ the pull should dequeue from next, or nil.
func (e *Engine) pullSource(ps *pullState) *fq {
	switch ps.scope {
	case uapi.PullDTFQ:
		f, ok := e.fqs[ps.source]
		if !ok || f.held {
			return nil
		}
		if f.state == fqRetired {
			if len(f.frames) > 0 {
				return f
			}
			return nil
		}
		if f.xoff && !f.xoffRace {
			return nil
		}
		if len(f.frames) == 0 && !f.forced && !f.xoffRace {
			return nil
		}
		return f
	case uapi.PullDTWQ:
		ch, ok := e.channels[ps.source>>3]
		if !ok {
			return nil
		}
		return ch.selectFQ(int(ps.source&7), ps.active)
	case uapi.PullDTChannel:
		ch, ok := e.channels[ps.source]
		if !ok {
			return nil
		}
		return ch.selectFQ(-1, ps.active)
	}
	return nil
}

func (e *Engine) pullHasMore(ps *pullState) bool {
	switch ps.scope {
	case uapi.PullDTFQ:
		f, ok := e.fqs[ps.source]
		return ok && !f.held && !f.xoff && len(f.frames) > 0
	case uapi.PullDTWQ:
		ch, ok := e.channels[ps.source>>3]
		if !ok {
			return false
		}
		for _, f := range ch.fqs {
			if int(f.wq) == int(ps.source&7) && f.trulyScheduled() {
				return true
			}
		}
		return false
	case uapi.PullDTChannel:
		ch, ok := e.channels[ps.source]
		return ok && ch.hasWork()
	}
	return false
}

// dequeue takes one frame from f and builds its result. An FQ selected while
// XOFFed or forced while empty yields a result without a frame.
func (e *Engine) dequeue(f *fq, volatile bool, inDQRR bool) [uapi.EntryWords]uint32 {
	var w [uapi.EntryWords]uint32
	uapi.Verb.Set(w[:], uapi.VerbDQ)

	var stat uint32
	if volatile {
		stat |= uapi.StatVolatile
	}
	if f.forced {
		stat |= uapi.StatForceEligible
	}

	denied := f.xoffRace
	f.xoffRace = false
	f.forced = false

	if !denied {
		if fr, ok := f.pop(); ok {
			stat |= uapi.StatValidFrame
			copy(w[uapi.DQFDWord:], fr.fd[:])
			e.dequeued.Add(1)
			if f.odp != nil {
				stat |= uapi.StatODPValid
				uapi.DQSeqnum.Set(w[:], f.odp.nextODP())
				uapi.DQODPID.Set(w[:], f.odp.id)
			}
		}
	}
	if len(f.frames) == 0 {
		stat |= uapi.StatFQEmpty
	}
	if f.hold && inDQRR {
		stat |= uapi.StatHeldActive
		f.held = true
	}

	uapi.Stat.Set(w[:], stat)
	uapi.DQFQID.Set(w[:], f.id)
	w[uapi.DQByteCountWord] = uint32(f.bytes)
	uapi.DQFrameCount.Set(w[:], uint32(len(f.frames)))
	uapi.Set64(w[:], uapi.DQCtxLoWord, f.ctx)
	return w
}

// noFrame builds the single expired result of a pull with nothing to
// dequeue. An FQ-scope pull reports the queue's real state, so a held or
// XOFFed queue with frames does not read as empty.
func (e *Engine) noFrame(ps *pullState) [uapi.EntryWords]uint32 {
	var w [uapi.EntryWords]uint32
	uapi.Verb.Set(w[:], uapi.VerbDQ)
	stat := uint32(uapi.StatVolatile | uapi.StatExpired)
	f, ok := e.fqs[ps.source]
	if ps.scope != uapi.PullDTFQ || !ok {
		if ps.scope == uapi.PullDTFQ {
			uapi.DQFQID.Set(w[:], ps.source)
		}
		uapi.Stat.Set(w[:], stat|uapi.StatFQEmpty)
		return w
	}
	if len(f.frames) == 0 {
		stat |= uapi.StatFQEmpty
	}
	uapi.Stat.Set(w[:], stat)
	uapi.DQFQID.Set(w[:], f.id)
	w[uapi.DQByteCountWord] = uint32(f.bytes)
	uapi.DQFrameCount.Set(w[:], uint32(len(f.frames)))
	uapi.Set64(w[:], uapi.DQCtxLoWord, f.ctx)
	return w
}

func (p *Portal) servicePull() {
	ps := p.pull
	e := p.e
	for ps != nil {
		if !ps.rls && !p.dqrrFree() {
			return
		}

		var w [uapi.EntryWords]uint32
		var held *fq
		if f := e.pullSource(ps); f != nil {
			w = e.dequeue(f, true, !ps.rls)
			if f.held {
				held = f
			}
			ps.left--
			if ps.left == 0 || !e.pullHasMore(ps) {
				uapi.Stat.Set(w[:], uapi.Stat.Get(w[:])|uapi.StatExpired)
			}
		} else {
			w = e.noFrame(ps)
		}
		uapi.DQToken.Set(w[:], uint32(ps.token))
		expired := uapi.Stat.Get(w[:])&uapi.StatExpired != 0

		if ps.rls {
			e.dmaWrite(ps.addr+uint64(ps.count*uapi.LineSize), &w)
		} else {
			p.dqrrWrite(w, held)
		}
		ps.count++

		if expired {
			p.pull = nil
			p.raise(uapi.IntVDCI)
			return
		}
	}
}

// servicePush dequeues from the channels enabled in SDQCR, one frame per
// DQRR entry, rotating across channel indices.
func (p *Portal) servicePush() {
	mask := p.sdqcr & uapi.SDQCRSrcMask
	if mask == 0 {
		return
	}
	token := (p.sdqcr >> uapi.SDQCRTokShift) & 0xff
	for p.dqrrFree() {
		served := false
		for i := 0; i < len(p.push); i++ {
			idx := (p.pushRR + i) % len(p.push)
			ch := p.push[idx]
			if mask&(1<<idx) == 0 || ch == nil {
				continue
			}
			f := ch.selectFQ(-1, false)
			if f == nil {
				continue
			}
			w := p.e.dequeue(f, false, true)
			uapi.DQToken.Set(w[:], token)
			var held *fq
			if f.held {
				held = f
			}
			p.dqrrWrite(w, held)
			p.pushRR = (idx + 1) % len(p.push)
			served = true
			break
		}
		if !served {
			return
		}
	}
}
