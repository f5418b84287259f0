package sim

import "github.com/ehrlich-b/go-qbman/internal/uapi"

type fqState uint8

const (
	fqParked fqState = iota
	fqScheduled
	fqRetired
)

type frame struct {
	fd [uapi.FDWords]uint32
}

func (f frame) length() uint32 { return f.fd[2] }

// fq is a frame queue.
type fq struct {
	id     uint32
	ch     *channel
	wq     uint8
	frames []frame
	bytes  uint64

	state  fqState
	xoff   bool
	forced bool
	// xoffRace keeps an FQ that was XOFFed while truly scheduled selectable
	// for one more channel dequeue, which then yields no frame.
	xoffRace bool

	hold bool
	held bool // a result of this FQ sits unconsumed in a DQRR

	odp    *orp
	ctx    uint64
	notify int
	dan    bool
}

func (f *fq) push(fr frame) {
	f.frames = append(f.frames, fr)
	f.bytes += uint64(fr.length())
}

func (f *fq) pop() (frame, bool) {
	if len(f.frames) == 0 {
		return frame{}, false
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	f.bytes -= uint64(fr.length())
	return fr, true
}

// trulyScheduled reports whether a channel or WQ dequeue may select the FQ.
func (f *fq) trulyScheduled() bool {
	if f.state != fqScheduled || f.held {
		return false
	}
	if f.xoffRace {
		return true
	}
	if f.xoff {
		return false
	}
	return len(f.frames) > 0 || f.forced
}

func (f *fq) describe() string {
	switch {
	case f.state == fqRetired:
		return "retired"
	case f.state == fqParked:
		return "parked"
	case f.held:
		return "held"
	case f.trulyScheduled():
		return "scheduled"
	default:
		return "tentative"
	}
}

// channel groups eight work queues of frame queues.
type channel struct {
	id     uint32
	fqs    []*fq
	rr     [8]int // next round-robin position per work queue
	active *fq

	notify   int
	cdanCtx  uint64
	cdanArmd bool
}

// hasWork reports whether any FQ of the channel is truly scheduled.
func (c *channel) hasWork() bool {
	for _, f := range c.fqs {
		if f.trulyScheduled() {
			return true
		}
	}
	return false
}

// selectFQ picks the next FQ to dequeue from. Work queue 0 has precedence;
// within a work queue FQs are served round-robin. With active precedence the
// FQ last served keeps being chosen while it remains eligible. wq limits the
// choice to one work queue when non-negative.
func (c *channel) selectFQ(wq int, active bool) *fq {
	if active && c.active != nil && c.active.trulyScheduled() &&
		(wq < 0 || int(c.active.wq) == wq) {
		return c.active
	}
	for q := 0; q < 8; q++ {
		if wq >= 0 && q != wq {
			continue
		}
		var members []*fq
		for _, f := range c.fqs {
			if int(f.wq) == q {
				members = append(members, f)
			}
		}
		n := len(members)
		for i := 0; i < n; i++ {
			f := members[(c.rr[q]+i)%n]
			if f.trulyScheduled() {
				c.rr[q] = (c.rr[q] + i + 1) % n
				c.active = f
				return f
			}
		}
	}
	return nil
}

// qd maps (priority, bin) pairs to frame queues.
type qd struct {
	id uint32
	m  map[uint64]uint32
}

func (q *qd) set(prio, bin, fqid uint32) {
	if q.m == nil {
		q.m = make(map[uint64]uint32)
	}
	q.m[uint64(prio)<<32|uint64(bin)] = fqid
}

func (q *qd) lookup(prio, bin uint32) (uint32, bool) {
	fqid, ok := q.m[uint64(prio)<<32|uint64(bin)]
	return fqid, ok
}

// seqMask covers the 14-bit restoration sequence space.
const seqMask = 0x3fff

type fragment struct {
	target *fq
	fr     frame
}

type orpSlot struct {
	frags    []fragment
	complete bool
}

// orp is an order restoration point. Fragments are held until every lower
// sequence number has completed, then released to their targets in order.
type orp struct {
	id      uint32
	nesn    uint32
	odpNext uint32 // next sequence number handed out at the ODP
	pending map[uint32]*orpSlot
}

func newORP(id uint32) *orp {
	return &orp{id: id, pending: make(map[uint32]*orpSlot)}
}

// behind reports whether seq has already been passed by NESN.
func (o *orp) behind(seq uint32) bool {
	return (seq-o.nesn)&seqMask >= 0x2000
}

func (o *orp) slot(seq uint32) *orpSlot {
	s, ok := o.pending[seq]
	if !ok {
		s = &orpSlot{}
		o.pending[seq] = s
	}
	return s
}

// submit queues one fragment of seq. It returns false if seq is stale.
func (o *orp) submit(seq uint32, incomplete bool, target *fq, fr frame) bool {
	if o.behind(seq) {
		return false
	}
	s := o.slot(seq)
	if s.complete {
		return false
	}
	s.frags = append(s.frags, fragment{target: target, fr: fr})
	s.complete = !incomplete
	return true
}

// hole marks seq as never arriving.
func (o *orp) hole(seq uint32) bool {
	if o.behind(seq) {
		return false
	}
	s := o.slot(seq)
	s.complete = true
	return true
}

// skip moves NESN past seq. Any fragments already held for the skipped
// numbers are released as they are.
func (o *orp) skip(seq uint32) ([]fragment, bool) {
	if o.behind(seq) {
		return nil, false
	}
	var out []fragment
	for o.nesn != (seq+1)&seqMask {
		if s, ok := o.pending[o.nesn]; ok {
			out = append(out, s.frags...)
			delete(o.pending, o.nesn)
		}
		o.nesn = (o.nesn + 1) & seqMask
	}
	return out, true
}

// drain releases every completed sequence number starting at NESN.
func (o *orp) drain() []fragment {
	var out []fragment
	for {
		s, ok := o.pending[o.nesn]
		if !ok || !s.complete {
			return out
		}
		out = append(out, s.frags...)
		delete(o.pending, o.nesn)
		o.nesn = (o.nesn + 1) & seqMask
	}
}

// nextODP hands out the sequence number for a frame dequeued at the ODP.
func (o *orp) nextODP() uint32 {
	s := o.odpNext
	o.odpNext = (o.odpNext + 1) & seqMask
	return s
}

// pool is a buffer pool.
type pool struct {
	id        uint32
	bufs      []uint64
	threshold int
	depleted  bool
	notify    int
	ctx       uint64
}

func (bp *pool) take(n int) []uint64 {
	if n > len(bp.bufs) {
		n = len(bp.bufs)
	}
	out := append([]uint64(nil), bp.bufs[:n]...)
	bp.bufs = bp.bufs[n:]
	return out
}

// stateChanged updates the depletion state and reports whether it flipped.
func (bp *pool) stateChanged() bool {
	d := len(bp.bufs) <= bp.threshold
	if d == bp.depleted {
		return false
	}
	bp.depleted = d
	return true
}
