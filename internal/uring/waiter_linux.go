//go:build linux

package uring

import (
	"errors"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

const readTag = 1

var errSQFull = errors.New("uring: submission queue full")

// ringWaiter keeps a single 4-byte read of the UIO descriptor in flight.
type ringWaiter struct {
	fd      int
	ring    *giouring.Ring
	buf     [4]byte
	pending bool
	rearm   bool
}

func newRingWaiter(fd int, entries uint32) (*ringWaiter, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}
	return &ringWaiter{fd: fd, ring: ring}, nil
}

func (w *ringWaiter) arm() error {
	if w.pending {
		return nil
	}
	sqe := w.ring.GetSQE()
	if sqe == nil {
		return errSQFull
	}
	sqe.PrepareRead(w.fd, uintptr(unsafe.Pointer(&w.buf[0])), uint32(len(w.buf)), 0)
	sqe.SetData64(readTag)
	if _, err := w.ring.Submit(); err != nil {
		return err
	}
	w.pending = true
	return nil
}

// Wait blocks for at most timeoutNs nanoseconds; a negative timeout blocks
// until the interrupt fires. A line that fired is re-enabled on the next
// call, after the caller has serviced the portal.
func (w *ringWaiter) Wait(timeoutNs int64) (bool, error) {
	if err := w.reenable(); err != nil {
		return false, err
	}
	if err := w.arm(); err != nil {
		return false, err
	}

	var (
		cqe *giouring.CompletionQueueEvent
		err error
	)
	if timeoutNs < 0 {
		cqe, err = w.ring.WaitCQE()
	} else {
		ts := syscall.NsecToTimespec(timeoutNs)
		cqe, err = w.ring.WaitCQETimeout(&ts)
	}
	if err != nil {
		if errors.Is(err, syscall.ETIME) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
			return false, nil
		}
		return false, err
	}

	res := cqe.Res
	w.ring.CQESeen(cqe)
	w.pending = false
	if res < 0 {
		return false, syscall.Errno(-res)
	}
	if res != int32(len(w.buf)) {
		return false, unix.EIO
	}
	w.rearm = true
	return true, nil
}

func (w *ringWaiter) reenable() error {
	if !w.rearm {
		return nil
	}
	w.rearm = false
	return Reenable(w.fd)
}

// Close tears down the ring; an in-flight read is cancelled with it.
func (w *ringWaiter) Close() error {
	if w.ring == nil {
		return nil
	}
	w.ring.QueueExit()
	w.ring = nil
	return nil
}

type pollWaiter struct {
	fd    int
	rearm bool
}

func newPollWaiter(fd int) (*pollWaiter, error) {
	if fd < 0 {
		return nil, unix.EBADF
	}
	return &pollWaiter{fd: fd}, nil
}

func (w *pollWaiter) Wait(timeoutNs int64) (bool, error) {
	if w.rearm {
		w.rearm = false
		if err := Reenable(w.fd); err != nil {
			return false, err
		}
	}
	ms := -1
	if timeoutNs >= 0 {
		ms = int((timeoutNs + 999_999) / 1_000_000)
	}
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
		return false, unix.EIO
	}

	var buf [4]byte
	got, err := unix.Read(w.fd, buf[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if got != len(buf) {
		return false, unix.EIO
	}
	w.rearm = true
	return true, nil
}

func (w *pollWaiter) Close() error { return nil }
