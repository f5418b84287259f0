// Package sim is a software model of a queue manager. Each sim.Portal
// implements the register and memory views a qbman.Portal is driven
// through, so the driver can be exercised without hardware.
//
// The engine consumes commands when the driver rings a doorbell (EQCR, RCR)
// or flushes a command line (VDQCR, CR), writes results into portal DQRRs or
// into caller memory registered with MapDMA, and raises interrupt status the
// way the device does. In Manual mode command consumption is deferred until
// Process is called, which makes ring backpressure observable.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/logging"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// Config describes the simulated device.
type Config struct {
	Portals  int
	Revision uint32 // zero selects RevisionV4100
	Manual   bool
	Logger   *logging.Logger
}

// Engine is the simulated queue manager shared by all its portals.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log *logging.Logger

	portals  []*Portal
	fqs      map[uint32]*fq
	channels map[uint32]*channel
	qds      map[uint32]*qd
	orps     map[uint32]*orp
	pools    map[uint32]*pool
	dma      []dmaRegion

	protocolErrors atomic.Uint64
	enqueued       atomic.Uint64
	dequeued       atomic.Uint64
}

type dmaRegion struct {
	base  uint64
	words []uint32
}

// New creates an engine with cfg.Portals portals.
func New(cfg Config) *Engine {
	if cfg.Revision == 0 {
		cfg.Revision = constants.RevisionV4100
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		fqs:      make(map[uint32]*fq),
		channels: make(map[uint32]*channel),
		qds:      make(map[uint32]*qd),
		orps:     make(map[uint32]*orp),
		pools:    make(map[uint32]*pool),
	}
	for i := 0; i < cfg.Portals; i++ {
		e.portals = append(e.portals, newPortal(e, i))
	}
	return e
}

// Revision returns the portal revision the engine models.
func (e *Engine) Revision() uint32 { return e.cfg.Revision }

// NumPortals returns the number of portals.
func (e *Engine) NumPortals() int { return len(e.portals) }

// Portal returns portal i.
func (e *Engine) Portal(i int) *Portal {
	return e.portals[i]
}

// Close releases interrupt descriptors held by the portals.
func (e *Engine) Close() error {
	e.mu.Lock()
	for _, p := range e.portals {
		p.shutdownIRQ()
	}
	e.mu.Unlock()

	// Interrupt goroutines take the engine lock, so they are reaped unlocked.
	var first error
	for _, p := range e.portals {
		if err := p.closeIRQ(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FQConfig configures a frame queue.
type FQConfig struct {
	ID      uint32
	Channel uint32 // channel the FQ is scheduled to; zero means none
	WQ      uint8  // work queue within the channel, 0 (highest) to 7

	// HoldActive keeps the FQ from being selected again while one of its
	// results sits unconsumed in a DQRR.
	HoldActive bool

	// ODP assigns restoration sequence numbers to dequeued frames using
	// the given ORP id.
	ODP    bool
	ODPID  uint32
	Ctx    uint64

	// NotifyPortal receives FQDAN, FQRN, FQRNI and FQPN notifications; -1
	// disables them. With DAN set the FQ starts parked and raises an FQDAN
	// when it turns non-empty.
	NotifyPortal int
	DAN          bool
}

// AddFQ creates a frame queue. The FQ starts scheduled unless DAN is set.
func (e *Engine) AddFQ(c FQConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.ID == 0 || c.ID > uapi.DQFQID.Max() {
		return fmt.Errorf("sim: invalid fq id %d", c.ID)
	}
	if _, ok := e.fqs[c.ID]; ok {
		return fmt.Errorf("sim: fq %d exists", c.ID)
	}
	if c.WQ > 7 {
		return fmt.Errorf("sim: fq %d: wq %d out of range", c.ID, c.WQ)
	}
	f := &fq{
		id:     c.ID,
		wq:     c.WQ,
		hold:   c.HoldActive,
		ctx:    c.Ctx,
		notify: c.NotifyPortal,
		dan:    c.DAN,
		state:  fqScheduled,
	}
	if c.DAN {
		f.state = fqParked
	}
	if c.Channel != 0 {
		ch, ok := e.channels[c.Channel]
		if !ok {
			return fmt.Errorf("sim: fq %d: channel %d not found", c.ID, c.Channel)
		}
		f.ch = ch
		ch.fqs = append(ch.fqs, f)
	}
	if c.ODP {
		o, ok := e.orps[c.ODPID]
		if !ok {
			return fmt.Errorf("sim: fq %d: orp %d not found", c.ID, c.ODPID)
		}
		f.odp = o
	}
	e.fqs[c.ID] = f
	return nil
}

// ChannelConfig configures a channel.
type ChannelConfig struct {
	ID uint32
	// NotifyPortal receives the channel's CDANs; -1 disables them.
	NotifyPortal int
}

// AddChannel creates a channel.
func (e *Engine) AddChannel(c ChannelConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.ID == 0 || c.ID > 0xffff {
		return fmt.Errorf("sim: invalid channel id %d", c.ID)
	}
	if _, ok := e.channels[c.ID]; ok {
		return fmt.Errorf("sim: channel %d exists", c.ID)
	}
	e.channels[c.ID] = &channel{id: c.ID, notify: c.NotifyPortal}
	return nil
}

// AddORP creates an order restoration point with NESN zero.
func (e *Engine) AddORP(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id > uapi.EqORPID.Max() {
		return fmt.Errorf("sim: invalid orp id %d", id)
	}
	if _, ok := e.orps[id]; ok {
		return fmt.Errorf("sim: orp %d exists", id)
	}
	e.orps[id] = newORP(id)
	return nil
}

// AddQD creates a queuing destination. fqs[prio][bin] names the frame queue
// each (priority, bin) pair maps to.
func (e *Engine) AddQD(id uint32, fqs [][]uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.qds[id]; ok {
		return fmt.Errorf("sim: qd %d exists", id)
	}
	if len(fqs) > 16 {
		return fmt.Errorf("sim: qd %d: too many priorities", id)
	}
	q := &qd{id: id}
	for prio, bins := range fqs {
		for bin, fqid := range bins {
			if _, ok := e.fqs[fqid]; !ok {
				return fmt.Errorf("sim: qd %d: fq %d not found", id, fqid)
			}
			q.set(uint32(prio), uint32(bin), fqid)
		}
	}
	e.qds[id] = q
	return nil
}

// PoolConfig configures a buffer pool.
type PoolConfig struct {
	ID      uint32
	Buffers []uint64

	// DepletionThreshold marks the pool depleted at or below this many
	// buffers; state changes raise a BPSCN on NotifyPortal (-1 disables).
	DepletionThreshold int
	NotifyPortal       int
	Ctx                uint64
}

// AddPool creates a buffer pool seeded with c.Buffers.
func (e *Engine) AddPool(c PoolConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.ID > uapi.RelBPID.Max() {
		return fmt.Errorf("sim: invalid pool id %d", c.ID)
	}
	if _, ok := e.pools[c.ID]; ok {
		return fmt.Errorf("sim: pool %d exists", c.ID)
	}
	bp := &pool{
		id:        c.ID,
		bufs:      append([]uint64(nil), c.Buffers...),
		threshold: c.DepletionThreshold,
		notify:    c.NotifyPortal,
		ctx:       c.Ctx,
	}
	bp.depleted = len(bp.bufs) <= bp.threshold
	e.pools[c.ID] = bp
	return nil
}

// MapChannelIndex binds push-dequeue index idx (0-15) of portal to channel.
func (e *Engine) MapChannelIndex(portal int, idx uint8, channel uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx >= constants.PushChannels {
		return fmt.Errorf("sim: channel index %d out of range", idx)
	}
	ch, ok := e.channels[channel]
	if !ok {
		return fmt.Errorf("sim: channel %d not found", channel)
	}
	e.portals[portal].push[idx] = ch
	return nil
}

// MapDMA registers caller memory that the engine may write at DMA address
// phys. Results are stored as raw little-endian words, exactly as a device
// would write them.
func (e *Engine) MapDMA(phys uint64, words []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dma = append(e.dma, dmaRegion{base: phys, words: words})
	sort.Slice(e.dma, func(i, j int) bool { return e.dma[i].base < e.dma[j].base })
}

// UnmapDMA forgets the region registered at phys.
func (e *Engine) UnmapDMA(phys uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.dma {
		if r.base == phys {
			e.dma = append(e.dma[:i], e.dma[i+1:]...)
			return
		}
	}
}

// dmaWords returns n words of registered memory at phys, or nil.
func (e *Engine) dmaWords(phys uint64, n int) []uint32 {
	for _, r := range e.dma {
		if phys < r.base || phys%4 != 0 {
			continue
		}
		start := (phys - r.base) / 4
		if start+uint64(n) <= uint64(len(r.words)) {
			return r.words[start : start+uint64(n)]
		}
	}
	return nil
}

// dmaWrite stores an entry into caller memory. The token word (word 1) is
// committed last so a reader polling it sees a complete entry.
func (e *Engine) dmaWrite(phys uint64, w *[uapi.EntryWords]uint32) bool {
	dst := e.dmaWords(phys, uapi.EntryWords)
	if dst == nil {
		e.protocolError("dma write to unmapped address %#x", phys)
		return false
	}
	for i := range w {
		if i != uapi.DQTokenWord {
			atomic.StoreUint32(&dst[i], uapi.ToDevice(w[i]))
		}
	}
	atomic.StoreUint32(&dst[uapi.DQTokenWord], uapi.ToDevice(w[uapi.DQTokenWord]))
	return true
}

// Process runs deferred command consumption (Manual mode) and delivers
// whatever results can be delivered.
func (e *Engine) Process() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.portals {
		p.consumeAll()
	}
	e.serviceAll()
}

// Notification is an event injected into a portal's DQRR.
type Notification struct {
	Verb     uint8
	Resource uint32
	State    uint8
	Ctx      uint64
}

// InjectNotification delivers n to portal. It exists for notification kinds
// the engine has no model for (congestion groups).
func (e *Engine) InjectNotification(portal int, n Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify(portal, n.Verb, n.Resource, n.State, n.Ctx)
	e.serviceAll()
}

// RetireFQ retires a frame queue. An empty FQ raises FQRNI, a non-empty one
// FQRN; its remaining frames can still be drained by FQ-targeted pulls.
func (e *Engine) RetireFQ(fqid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fqs[fqid]
	if !ok {
		return fmt.Errorf("sim: fq %d not found", fqid)
	}
	f.state = fqRetired
	verb := uint8(uapi.VerbFQRNI)
	if len(f.frames) > 0 {
		verb = uapi.VerbFQRN
	}
	e.notify(f.notify, verb, f.id, 0, f.ctx)
	e.serviceAll()
	return nil
}

// FQLength returns the number of frames queued on fqid.
func (e *Engine) FQLength(fqid uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.fqs[fqid]; ok {
		return len(f.frames)
	}
	return 0
}

// FQState returns a short description of the FQ scheduling state:
// "parked", "tentative", "scheduled", "held" or "retired".
func (e *Engine) FQState(fqid uint32) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fqs[fqid]
	if !ok {
		return ""
	}
	return f.describe()
}

// PoolDepth returns the number of buffers in pool bpid.
func (e *Engine) PoolDepth(bpid uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bp, ok := e.pools[bpid]; ok {
		return len(bp.bufs)
	}
	return 0
}

// ORPNESN returns the next expected sequence number of an ORP.
func (e *Engine) ORPNESN(id uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orps[id]; ok {
		return o.nesn
	}
	return 0
}

// Stats summarises engine activity.
type Stats struct {
	Enqueued       uint64
	Dequeued       uint64
	ProtocolErrors uint64
}

func (e *Engine) Stats() Stats {
	return Stats{
		Enqueued:       e.enqueued.Load(),
		Dequeued:       e.dequeued.Load(),
		ProtocolErrors: e.protocolErrors.Load(),
	}
}

func (e *Engine) protocolError(format string, args ...any) {
	e.protocolErrors.Add(1)
	e.log.Debugf("sim protocol error: "+format, args...)
}

// serviceAll delivers pending notifications and dequeue results to every
// portal with room in its DQRR.
func (e *Engine) serviceAll() {
	for _, p := range e.portals {
		p.service()
	}
}
