//go:build linux

package sim

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// irqLine emulates a UIO interrupt descriptor over a socket pair: the driver
// reads a 4-byte event count and writes a 4-byte 1 to re-enable the line.
// Once signalled the line stays quiet until re-enabled; re-enabling a line
// whose condition still holds signals again at once.
type irqLine struct {
	devFD    int // engine side
	userFD   int // handed to the driver
	open     bool
	disabled bool
	asserted bool
	count    uint32
	done     chan struct{}
}

// IRQFD returns a descriptor that behaves like the portal's UIO device for
// interrupt purposes. The engine owns it; Close releases it.
func (p *Portal) IRQFD() (int, error) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	if p.irq.open {
		return p.irq.userFD, nil
	}
	if p.irq.done != nil {
		return -1, unix.EBADF
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	p.irq = irqLine{devFD: fds[0], userFD: fds[1], open: true, done: make(chan struct{})}
	go p.irqLoop(fds[0], p.irq.done)
	p.updateIRQ()
	return p.irq.userFD, nil
}

// irqLoop applies re-enable writes from the driver until the line is shut
// down.
func (p *Portal) irqLoop(fd int, done chan struct{}) {
	defer close(done)
	var buf [4]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return
		}
		if n != len(buf) || binary.NativeEndian.Uint32(buf[:]) == 0 {
			continue
		}
		p.e.mu.Lock()
		if p.irq.open {
			p.irq.disabled = false
			p.irq.asserted = false
			p.updateIRQ()
		}
		p.e.mu.Unlock()
	}
}

// update signals the driver on a rising edge of the line.
func (l *irqLine) update(asserted bool) {
	if !l.open {
		return
	}
	if !asserted {
		l.asserted = false
		return
	}
	if l.asserted || l.disabled {
		return
	}
	l.count++
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], l.count)
	if err := unix.Sendto(l.devFD, buf[:], unix.MSG_DONTWAIT, nil); err != nil {
		return
	}
	l.asserted = true
	l.disabled = true
}

// shutdownIRQ stops the line; the caller holds the engine lock.
func (p *Portal) shutdownIRQ() {
	if !p.irq.open {
		return
	}
	p.irq.open = false
	unix.Shutdown(p.irq.devFD, unix.SHUT_RDWR)
}

func (p *Portal) closeIRQ() error {
	if p.irq.done == nil {
		return nil
	}
	<-p.irq.done
	err := unix.Close(p.irq.devFD)
	if cerr := unix.Close(p.irq.userFD); err == nil {
		err = cerr
	}
	p.irq.done = nil
	return err
}
