// Package uring waits for portal interrupts on a UIO device descriptor.
//
// A UIO read blocks until the interrupt fires and returns a 4-byte event
// count; writing a 4-byte 1 re-enables the line. Waiters re-enable a line
// that fired on the following Wait, so the portal is serviced with the line
// masked. The preferred waiter keeps one such read in flight on an io_uring;
// kernels without io_uring fall back to poll(2).
package uring

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-qbman/internal/interfaces"
	"github.com/ehrlich-b/go-qbman/internal/logging"
)

// Config describes the interrupt source.
type Config struct {
	FD      int    // UIO device descriptor, owned by the caller
	Entries uint32 // io_uring depth; 0 selects 4
	Poll    bool   // skip io_uring and use poll(2)
}

// New returns a Waiter for cfg.FD.
func New(cfg Config) (interfaces.Waiter, error) {
	logger := logging.Default()
	if cfg.Entries == 0 {
		cfg.Entries = 4
	}
	if !cfg.Poll {
		w, err := newRingWaiter(cfg.FD, cfg.Entries)
		if err == nil {
			logger.Debug("interrupt waiter ready", "fd", cfg.FD, "mode", "io_uring")
			return w, nil
		}
		logger.Warn("io_uring unavailable, falling back to poll", "error", err)
	}
	w, err := newPollWaiter(cfg.FD)
	if err != nil {
		return nil, err
	}
	logger.Debug("interrupt waiter ready", "fd", cfg.FD, "mode", "poll")
	return w, nil
}

// Reenable unmasks the interrupt line after an event was consumed.
func Reenable(fd int) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	for {
		_, err := unix.Write(fd, buf[:])
		if err != unix.EINTR {
			return err
		}
	}
}
