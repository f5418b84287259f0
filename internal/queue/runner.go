// Package queue runs the owner loop of a software portal: it drains DQRR,
// hands each entry to a handler and parks on the portal interrupt when the
// ring stays empty.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	qbman "github.com/ehrlich-b/go-qbman"
	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/interfaces"
)

// Action tells the runner what to do with an entry after the handler saw it.
type Action int

const (
	// Consume releases the DQRR slot at once.
	Consume Action = iota
	// Hold keeps the slot; the handler releases it later, typically with
	// discrete consumption on an enqueue (EqDesc.SetDCA).
	Hold
)

// Handler processes one dequeue entry on the runner's goroutine. The entry
// is only valid until its slot is consumed.
type Handler interface {
	Handle(p *qbman.Portal, e *qbman.DQEntry) Action
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(p *qbman.Portal, e *qbman.DQEntry) Action

func (f HandlerFunc) Handle(p *qbman.Portal, e *qbman.DQEntry) Action { return f(p, e) }

type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type Config struct {
	Portal  *qbman.Portal
	Handler Handler
	// Waiter parks the loop on the portal interrupt. Without one the loop
	// sleeps for IdleWait between polls.
	Waiter interfaces.Waiter
	Logger Logger

	IdleSpin int           // empty polls before parking; 0 selects the default
	IdleWait time.Duration // longest single park; 0 selects the default
}

// Stats counts runner activity.
type Stats struct {
	Entries  uint64 // entries handed to the handler
	Held     uint64 // entries the handler kept
	Parks    uint64 // times the loop parked
	Wakeups  uint64 // parks ended by an interrupt
	Timeouts uint64 // parks ended by the timeout
}

// Runner owns a portal while it runs. No other goroutine may use the portal
// until Stop returns.
type Runner struct {
	portal   *qbman.Portal
	handler  Handler
	waiter   interfaces.Waiter
	logger   Logger
	idleSpin int
	idleWait time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	entries  atomic.Uint64
	held     atomic.Uint64
	parks    atomic.Uint64
	wakeups  atomic.Uint64
	timeouts atomic.Uint64
}

var errRunning = errors.New("queue: runner already started")

// NewRunner validates config and returns a stopped runner.
func NewRunner(config Config) (*Runner, error) {
	if config.Portal == nil {
		return nil, fmt.Errorf("queue: portal is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("queue: handler is required")
	}
	r := &Runner{
		portal:   config.Portal,
		handler:  config.Handler,
		waiter:   config.Waiter,
		logger:   config.Logger,
		idleSpin: config.IdleSpin,
		idleWait: config.IdleWait,
	}
	if r.idleSpin <= 0 {
		r.idleSpin = constants.IdleSpinPolls
	}
	if r.idleWait <= 0 {
		r.idleWait = constants.IdleWaitTimeout
	}
	return r, nil
}

// Start runs the loop on a new goroutine until ctx ends or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		err := r.Run(ctx)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}(r.done)
	return nil
}

// Stop ends a loop started with Start and returns its error.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = nil
	return r.err
}

// Run drives the portal on the calling goroutine until ctx ends. It returns
// nil on cancellation and the waiter's error if waiting fails.
func (r *Runner) Run(ctx context.Context) error {
	// A portal belongs to one core; keep the loop on one thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p := r.portal
	idx := p.Descriptor().Index
	if r.waiter != nil {
		p.InterruptSetTrigger(p.InterruptGetTrigger() | qbman.InterruptDQRI)
		p.InterruptSetInhibit(false)
	}
	if r.logger != nil {
		r.logger.Debugf("portal %d: runner started", idx)
	}

	idle := 0
	for ctx.Err() == nil {
		if r.poll() > 0 {
			idle = 0
			continue
		}
		idle++
		if idle < r.idleSpin {
			runtime.Gosched()
			continue
		}
		idle = 0
		if err := r.park(ctx); err != nil {
			if r.logger != nil {
				r.logger.Printf("portal %d: runner stopped: %v", idx, err)
			}
			return err
		}
	}

	if r.logger != nil {
		r.logger.Debugf("portal %d: runner stopping", idx)
	}
	return nil
}

// poll hands every new DQRR entry to the handler.
func (r *Runner) poll() int {
	p := r.portal
	n := 0
	for e := p.DQRRNext(); e != nil; e = p.DQRRNext() {
		n++
		r.entries.Add(1)
		if r.handler.Handle(p, e) == Hold {
			r.held.Add(1)
			continue
		}
		p.DQRRConsume(e)
	}
	return n
}

func (r *Runner) park(ctx context.Context) error {
	r.parks.Add(1)
	if r.waiter == nil {
		t := time.NewTimer(r.idleWait)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			r.timeouts.Add(1)
		}
		return nil
	}

	// Clear the latched status so only work arriving from here on wakes
	// the loop, then look once more to close the window.
	r.portal.InterruptClearStatus(qbman.InterruptDQRI)
	if r.poll() > 0 {
		return nil
	}
	fired, err := r.waiter.Wait(r.idleWait.Nanoseconds())
	if err != nil {
		return fmt.Errorf("queue: wait for interrupt: %w", err)
	}
	if fired {
		r.wakeups.Add(1)
	} else {
		r.timeouts.Add(1)
	}
	return nil
}

func (r *Runner) Stats() Stats {
	return Stats{
		Entries:  r.entries.Load(),
		Held:     r.held.Load(),
		Parks:    r.parks.Load(),
		Wakeups:  r.wakeups.Load(),
		Timeouts: r.timeouts.Load(),
	}
}
