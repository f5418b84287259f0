// Package qbman drives a software portal of a hardware queue manager: the
// per-core command and result rings through which frames are enqueued and
// dequeued, buffers are released to and acquired from pools, and frame
// queues and channels are managed.
//
// A Portal is owned by a single goroutine. It never blocks: full rings,
// empty pools and missing results are reported immediately so the owner can
// decide how to retry.
package qbman

import (
	"math"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/interfaces"
	"github.com/ehrlich-b/go-qbman/internal/logging"
	"github.com/ehrlich-b/go-qbman/internal/ring"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// Registers is the cache-inhibited control window of a portal.
type Registers = interfaces.Registers

// Memory is the cache-enabled window holding the portal rings.
type Memory = interfaces.Memory

// Logger receives lifecycle messages. *logging.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Descriptor identifies a portal and the address-space views used to reach it.
type Descriptor struct {
	Index    int
	Revision uint32
	CENA     Memory
	CINH     Registers

	// TimeoutQuantumNs is the dequeue interrupt holdoff quantum. Zero selects
	// DefaultTimeoutQuantumNs.
	TimeoutQuantumNs uint32
}

// Options contains optional portal settings
type Options struct {
	// Logger for lifecycle messages (if nil, no printf logging)
	Logger Logger

	// Observer for metrics collection (if nil, records into Portal.Metrics)
	Observer Observer

	// MCPollBudget bounds response polling per management command (0 selects
	// DefaultMCPollBudget)
	MCPollBudget int
}

// Portal is an initialised software portal.
type Portal struct {
	desc    Descriptor
	cena    Memory
	cinh    Registers
	quantum uint32

	eqcr *ring.Producer
	rcr  *ring.Producer
	dqrr *ring.Consumer

	// Copies of DQRR entries handed out by DQRRNext, indexed by ring slot.
	dqrrShadow []DQEntry

	vdq struct {
		busy bool
		vb   uint32
	}

	sdq uint32 // SDQCR shadow; channel bits 0-15

	mc struct {
		vb      uint32
		pending bool
		verb    uint8
		op      string
		start   int64
		acqDst  []uint64
	}
	mcBudget int

	log      *logging.Logger
	printf   Logger
	observer Observer
	metrics  *Metrics
	finished bool
}

func dqrrDepth(rev uint32) uint32 {
	if rev < constants.RevisionV4100 {
		return constants.DQRRDepthV4000
	}
	return constants.DQRRDepthV4100
}

// Init brings up the portal described by desc.
//
// It fails with ErrInit when the descriptor is incomplete, names a revision
// this driver does not know, or the portal does not read back an enabled
// configuration.
func Init(desc Descriptor, opts *Options) (*Portal, error) {
	if opts == nil {
		opts = &Options{}
	}

	if desc.CENA == nil || desc.CINH == nil {
		return nil, NewPortalError("init", desc.Index, ErrCodeInit, "descriptor is missing a portal mapping")
	}
	if desc.Revision>>24 != constants.RevisionV4000>>24 {
		return nil, NewPortalError("init", desc.Index, ErrCodeInit, "unsupported portal revision")
	}

	log := logging.Default().WithPortal(desc.Index)

	p := &Portal{
		desc:     desc,
		cena:     desc.CENA,
		cinh:     desc.CINH,
		quantum:  desc.TimeoutQuantumNs,
		eqcr:     ring.NewProducer(constants.EQCRDepth),
		rcr:      ring.NewProducer(constants.RCRDepth),
		dqrr:     ring.NewConsumer(dqrrDepth(desc.Revision)),
		mcBudget: opts.MCPollBudget,
		log:      log,
		printf:   opts.Logger,
		metrics:  NewMetrics(),
	}
	if p.quantum == 0 {
		p.quantum = constants.DefaultTimeoutQuantumNs
	}
	if uint64(p.quantum)*constants.MaxTimeoutUnits > math.MaxUint32 {
		return nil, NewPortalError("init", desc.Index, ErrCodeInit, "timeout quantum too large")
	}
	if p.mcBudget <= 0 {
		p.mcBudget = constants.DefaultMCPollBudget
	}
	p.observer = opts.Observer
	if p.observer == nil {
		p.observer = NewMetricsObserver(p.metrics)
	}
	p.dqrrShadow = make([]DQEntry, p.dqrr.Size())
	p.vdq.vb = uapi.ValidBit
	p.mc.vb = uapi.ValidBit

	cfg := uint32(uapi.CFGEnable) |
		p.dqrr.Size()<<uapi.CFGDQRRDepthSh |
		uapi.CFGEQCRStash
	p.cinh.Write32(uapi.CINHCFG, cfg)
	if p.cinh.Read32(uapi.CINHCFG) == 0 {
		log.Error("portal is not enabled", "cfg", cfg)
		return nil, NewPortalError("init", desc.Index, ErrCodeInit, "portal did not accept its configuration")
	}

	p.eqcr.Restore(p.cinh.Read32(uapi.CINHEQCRPI), p.cinh.Read32(uapi.CINHEQCRCI))
	p.rcr.Restore(p.cinh.Read32(uapi.CINHRCRPI), p.cinh.Read32(uapi.CINHRCRCI))

	// No channels selected: SDQCR must read zero or the portal flags an error.
	p.cinh.Write32(uapi.CINHSDQCR, 0)
	p.sdq = uapi.SDQCRFrameCount | uint32(constants.SDQCRToken)<<uapi.SDQCRTokShift

	log.Info("portal initialized", "revision", desc.Revision, "dqrr_depth", p.dqrr.Size())
	if p.printf != nil {
		p.printf.Printf("portal %d up (rev %#08x, dqrr %d)", desc.Index, desc.Revision, p.dqrr.Size())
	}
	return p, nil
}

// Finish stops push dequeues, disables the portal and releases the handle.
// The portal must not be used afterwards; the next Init re-enables it from
// its reset state, so no result consumed here is seen again.
func (p *Portal) Finish() {
	if p.finished {
		return
	}
	p.cinh.Write32(uapi.CINHSDQCR, 0)
	p.cinh.Write32(uapi.CINHCFG, 0)
	p.sdq &^= uapi.SDQCRSrcMask
	p.finished = true
	p.metrics.Stop()

	p.log.Info("portal finished", "vdq_busy", p.vdq.busy, "mc_pending", p.mc.pending)
	if p.printf != nil {
		p.printf.Debugf("portal %d finished", p.desc.Index)
	}
}

// Descriptor returns the descriptor the portal was initialised from.
func (p *Portal) Descriptor() Descriptor {
	return p.desc
}

// Metrics returns the portal's built-in counters. They are only updated when
// no custom Observer was supplied.
func (p *Portal) Metrics() *Metrics {
	return p.metrics
}

// DQRRDepth returns the number of dequeue response ring entries.
func (p *Portal) DQRRDepth() int {
	return int(p.dqrr.Size())
}

func (p *Portal) invalid(op, msg string) error {
	p.log.Debug("rejected submission", "op", op, "reason", msg)
	return NewPortalError(op, p.desc.Index, ErrCodeInvalidArgument, msg)
}

func (p *Portal) busy(op, msg string) error {
	return NewPortalError(op, p.desc.Index, ErrCodeBusy, msg)
}
