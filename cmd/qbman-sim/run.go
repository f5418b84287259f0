package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	qbman "github.com/ehrlich-b/go-qbman"
	"github.com/ehrlich-b/go-qbman/backend"
	"github.com/ehrlich-b/go-qbman/internal/export"
	"github.com/ehrlich-b/go-qbman/internal/interfaces"
	"github.com/ehrlich-b/go-qbman/internal/logging"
	"github.com/ehrlich-b/go-qbman/internal/queue"
	"github.com/ehrlich-b/go-qbman/internal/uring"
	"github.com/ehrlich-b/go-qbman/sim"
)

const (
	producerPortal = 0
	consumerPortal = 1

	// DMA address of the result storage used to check for leftover frames
	storageBase = 0x1_0000_0000
)

type runOptions struct {
	Interrupts  bool
	MetricsAddr string
	Timeout     time.Duration
	Logger      *logging.Logger
}

type report struct {
	Frames        uint64
	Bytes         uint64
	Elapsed       time.Duration
	OutOfOrder    uint64
	Notifications uint64
	Leftover      int
	Runner        queue.Stats
	Engine        sim.Stats
	Memory        map[string]interface{}
	Producer      qbman.MetricsSnapshot
	Consumer      qbman.MetricsSnapshot
}

// sink is the consumer portal's handler: it checks per-FQ ordering and
// returns buffers to their pool in batches.
type sink struct {
	mem     *backend.Memory
	rel     *qbman.ReleaseDesc
	batch   *[qbman.MaxReleaseBuffers]uint64
	pending int
	last    map[uint32]uint64
	log     *logging.Logger

	frames        atomic.Uint64
	bytes         atomic.Uint64
	outOfOrder    atomic.Uint64
	notifications atomic.Uint64
}

func (s *sink) Handle(p *qbman.Portal, e *qbman.DQEntry) queue.Action {
	if !e.IsDQ() {
		s.notifications.Add(1)
		switch {
		case e.IsFQDAN():
			// The FQ has work; let it compete for the channel.
			if err := p.FQSchedule(e.ResourceID()); err != nil {
				s.log.Warn("schedule after FQDAN failed", "fqid", e.ResourceID(), "error", err)
			}
		case e.IsBPSCN():
			s.log.Debug("pool state change", "bpid", e.ResourceID(), "depleted", e.State() != 0)
		}
		return queue.Consume
	}

	fd := e.FD()
	if fd == nil {
		return queue.Consume
	}
	var b [8]byte
	if _, err := s.mem.ReadAddr(b[:], fd.Addr()); err == nil {
		seq := binary.LittleEndian.Uint64(b[:])
		if last, ok := s.last[e.FQID()]; ok && seq != last+1 {
			s.outOfOrder.Add(1)
		}
		s.last[e.FQID()] = seq
	}
	// Scrub the sequence number so a buffer delivered twice shows up as
	// out of order.
	if off, err := s.mem.Offset(fd.Addr()); err == nil {
		s.mem.Discard(off, int64(len(b)))
	}
	s.bytes.Add(uint64(fd.Len()))
	s.release(p, fd.Addr())
	s.frames.Add(1)
	return queue.Consume
}

func (s *sink) release(p *qbman.Portal, addr uint64) {
	s.batch[s.pending] = addr
	s.pending++
	if s.pending == len(s.batch) {
		s.flush(p)
	}
}

func (s *sink) flush(p *qbman.Portal) {
	for s.pending > 0 {
		err := p.Release(s.rel, s.batch[:s.pending])
		if err == nil {
			s.pending = 0
			return
		}
		if !errors.Is(err, qbman.ErrBusy) {
			s.log.Error("release failed", "error", err)
			return
		}
		runtime.Gosched()
	}
}

// build creates the topology's objects on the engine and seeds the pools.
func build(e *sim.Engine, t *Topology, mem *backend.Memory) error {
	for _, c := range t.Channels {
		if err := e.AddChannel(sim.ChannelConfig{ID: c.ID, NotifyPortal: consumerPortal}); err != nil {
			return err
		}
	}
	orps := make(map[uint32]bool)
	for _, f := range t.FQs {
		if f.ORP != 0 && !orps[f.ORP] {
			if err := e.AddORP(f.ORP); err != nil {
				return err
			}
			orps[f.ORP] = true
		}
		err := e.AddFQ(sim.FQConfig{
			ID:           f.ID,
			Channel:      f.Channel,
			WQ:           f.WQ,
			HoldActive:   f.HoldActive,
			ODP:          f.ORP != 0,
			ODPID:        f.ORP,
			Ctx:          f.Ctx,
			NotifyPortal: consumerPortal,
			DAN:          f.DAN,
		})
		if err != nil {
			return err
		}
	}
	for _, p := range t.Pools {
		size, _ := parseSize("buffer_size", p.BufferSize)
		bufs, err := mem.Carve(p.Buffers, int64(size))
		if err != nil {
			return fmt.Errorf("pool %d: %w", p.ID, err)
		}
		err = e.AddPool(sim.PoolConfig{
			ID:                 p.ID,
			Buffers:            bufs,
			DepletionThreshold: p.DepletionThreshold,
			NotifyPortal:       consumerPortal,
		})
		if err != nil {
			return err
		}
	}
	for _, q := range t.QDs {
		if err := e.AddQD(q.ID, q.FQs); err != nil {
			return err
		}
	}
	for i, c := range t.Channels {
		if err := e.MapChannelIndex(consumerPortal, uint8(i), c.ID); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(addr string, portals map[int]*qbman.Portal, logger *logging.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	col := export.NewCollector("qbman")
	for idx, p := range portals {
		col.Add(idx, p.Metrics())
	}
	reg.MustRegister(col)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func run(ctx context.Context, t *Topology, opts runOptions) (*report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}

	memSize, _ := parseSize("memory.size", t.Memory.Size)
	mem := backend.NewMemory(t.Memory.Base, int64(memSize))
	defer mem.Close()

	e := sim.New(sim.Config{Portals: t.Portals, Logger: logger})
	defer e.Close()
	if err := build(e, t, mem); err != nil {
		return nil, err
	}

	producer, err := qbman.NewSimulatedPortal(e, producerPortal, &qbman.Options{Logger: logger.WithPortal(producerPortal)})
	if err != nil {
		return nil, err
	}
	defer producer.Finish()
	consumer, err := qbman.NewSimulatedPortal(e, consumerPortal, &qbman.Options{Logger: logger.WithPortal(consumerPortal)})
	if err != nil {
		return nil, err
	}
	defer consumer.Finish()
	for i := range t.Channels {
		if err := consumer.PushSet(uint8(i), true); err != nil {
			return nil, err
		}
	}

	if opts.MetricsAddr != "" {
		srv := serveMetrics(opts.MetricsAddr, map[int]*qbman.Portal{producerPortal: producer, consumerPortal: consumer}, logger)
		defer srv.Close()
	}

	var waiter interfaces.Waiter
	if opts.Interrupts {
		fd, err := e.Portal(consumerPortal).IRQFD()
		if err == nil {
			waiter, err = uring.New(uring.Config{FD: fd})
		}
		if err != nil {
			logger.Warn("interrupts unavailable, polling", "error", err)
			waiter = nil
		} else {
			defer waiter.Close()
		}
	}

	rel := qbman.NewReleaseDesc()
	rel.SetBPID(t.Traffic.Pool)
	batch := queue.GetBatch()
	defer queue.PutBatch(batch)
	s := &sink{mem: mem, rel: rel, batch: batch, last: make(map[uint32]uint64), log: logger.WithPortal(consumerPortal)}

	r, err := queue.NewRunner(queue.Config{
		Portal:  consumer,
		Handler: s,
		Waiter:  waiter,
		Logger:  logger.WithPortal(consumerPortal),
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	prodErr := produce(ctx, producer, mem, t)
	if prodErr == nil {
		prodErr = waitFrames(ctx, &s.frames, uint64(t.Traffic.Frames), opts.Timeout)
	}
	elapsed := time.Since(start)
	runErr := r.Stop()

	// The consumer portal is ours again.
	s.flush(consumer)
	leftover := countLeftover(e, consumer, t)

	rep := &report{
		Frames:        s.frames.Load(),
		Bytes:         s.bytes.Load(),
		Elapsed:       elapsed,
		OutOfOrder:    s.outOfOrder.Load(),
		Notifications: s.notifications.Load(),
		Leftover:      leftover,
		Runner:        r.Stats(),
		Engine:        e.Stats(),
		Memory:        mem.Stats(),
		Producer:      producer.Metrics().Snapshot(),
		Consumer:      consumer.Metrics().Snapshot(),
	}
	if prodErr != nil {
		return rep, prodErr
	}
	return rep, runErr
}

// target is where one frame of the round-robin goes.
type target struct {
	fqid uint32 // FQ the frame lands on
	qd   uint32
	bin  uint32
}

func (tg target) apply(eq *qbman.EqDesc) {
	if tg.qd != 0 {
		eq.SetQD(tg.qd, tg.bin, 0)
		return
	}
	eq.SetFQ(tg.fqid)
}

// targets lists the destinations the producer rotates over: every FQ, or
// every priority 0 bin of the traffic QD.
func targets(t *Topology) []target {
	var out []target
	if t.Traffic.QD != 0 {
		for _, q := range t.QDs {
			if q.ID != t.Traffic.QD {
				continue
			}
			for bin, fqid := range q.FQs[0] {
				out = append(out, target{fqid: fqid, qd: q.ID, bin: uint32(bin)})
			}
		}
		return out
	}
	for _, f := range t.FQs {
		out = append(out, target{fqid: f.ID})
	}
	return out
}

// produce fills buffers taken from the pool with a per-FQ sequence number
// and enqueues them round-robin across the targets.
func produce(ctx context.Context, p *qbman.Portal, mem *backend.Memory, t *Topology) error {
	frameSize, _ := parseSize("frame_size", t.Traffic.FrameSize)
	bufs := queue.GetBatch()
	defer queue.PutBatch(bufs)

	eq := qbman.NewEqDesc()
	dests := targets(t)
	seqs := make(map[uint32]uint64)
	sent, next := 0, 0
	for sent < t.Traffic.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := t.Traffic.Frames - sent
		if want > len(bufs) {
			want = len(bufs)
		}
		n, err := p.Acquire(t.Traffic.Pool, bufs[:want])
		switch {
		case errors.Is(err, qbman.ErrBusy):
			// Pool drained or a command is still pending.
			if p.MCPending() {
				n, _ = p.CompletePending()
			}
			if n == 0 {
				runtime.Gosched()
				continue
			}
		case err != nil:
			return err
		}

		for _, addr := range bufs[:n] {
			dest := dests[next%len(dests)]
			next++
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], seqs[dest.fqid])
			seqs[dest.fqid]++
			if _, err := mem.WriteAddr(b[:], addr); err != nil {
				return err
			}

			fd := &qbman.FD{}
			fd.SetAddr(addr)
			fd.SetLen(uint32(frameSize))
			fd.SetBPID(uint16(t.Traffic.Pool))
			dest.apply(eq)
			for {
				err := p.Enqueue(eq, fd)
				if err == nil {
					break
				}
				if !errors.Is(err, qbman.ErrBusy) {
					return err
				}
				runtime.Gosched()
			}
			sent++
		}
	}
	return nil
}

func waitFrames(ctx context.Context, got *atomic.Uint64, want uint64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for got.Load() < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("received %d of %d frames before timeout", got.Load(), want)
		case <-tick.C:
		}
	}
	return nil
}

// countLeftover pulls whatever is still queued on each FQ into storage.
func countLeftover(e *sim.Engine, p *qbman.Portal, t *Topology) int {
	storage := queue.GetStorage(qbman.MaxPullFrames)
	defer queue.PutStorage(storage)

	left := 0
	d := qbman.NewPullDesc()
	for i, f := range t.FQs {
		phys := uint64(storageBase) + uint64(i)*0x1000
		tok := uint8(i%0xfe + 1)
		qbman.SetOldToken(storage, 0)
		qbman.MapStorage(e, phys, storage)

		d.Clear()
		d.SetFQ(f.ID)
		d.SetNumFrames(qbman.MaxPullFrames)
		d.SetToken(tok)
		d.SetStorage(storage, phys, false)
		if err := p.Pull(d); err == nil {
			left += collect(p, storage, tok)
		}
		e.UnmapDMA(phys)
	}
	return left
}

// collect waits for the results of a pull into storage and counts frames.
func collect(p *qbman.Portal, storage []qbman.DQEntry, tok uint8) int {
	n := 0
	for j := range storage {
		for spins := 0; !p.HasNewToken(&storage[j], tok); spins++ {
			if spins > 1_000_000 {
				return n
			}
			runtime.Gosched()
		}
		if storage[j].FD() != nil {
			n++
		}
		if storage[j].IsPullComplete() {
			break
		}
	}
	return n
}
