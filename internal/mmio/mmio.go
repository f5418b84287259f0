// Package mmio maps a portal device file into the register and ring views
// the driver works through.
//
// A portal exposes two windows: the cache-enabled area holding the command
// and result rings, and the cache-inhibited register file. Each 32-bit word
// is little-endian on the device. Go cannot issue cache maintenance
// instructions, so Flush and Invalidate are fences; the platform must map
// the cache-enabled window coherently (write-combining or stashed).
package mmio

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-qbman/internal/logging"
)

// Window sizes of a software portal.
const (
	CENASize = 0x4000
	CINHSize = 0x1000
)

// Layout locates the two windows within the device file.
type Layout struct {
	CENAOffset int64
	CENASize   int
	CINHOffset int64
	CINHSize   int
}

// UIOLayout places the cache-enabled window at UIO map 0 and the register
// file at map 1. UIO selects map N with an mmap offset of N pages.
func UIOLayout() Layout {
	page := int64(os.Getpagesize())
	return Layout{
		CENAOffset: 0,
		CENASize:   CENASize,
		CINHOffset: page,
		CINHSize:   CINHSize,
	}
}

var bigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

func le(v uint32) uint32 {
	if bigEndian {
		return bits.ReverseBytes32(v)
	}
	return v
}

// Device is a mapped portal. It implements both the register and the memory
// view; the offsets passed to each are relative to their own window.
type Device struct {
	path string
	f    *os.File
	cena []byte
	cinh []byte
}

// Open maps the windows described by l from the device file at path.
func Open(path string, l Layout) (*Device, error) {
	logger := logging.Default()
	if l.CENASize <= 0 || l.CINHSize <= 0 || l.CENASize%4 != 0 || l.CINHSize%4 != 0 {
		return nil, fmt.Errorf("mmio: invalid layout %+v", l)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}

	cena, err := unix.Mmap(int(f.Fd()), l.CENAOffset, l.CENASize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: map cache-enabled window of %s: %w", path, err)
	}
	cinh, err := unix.Mmap(int(f.Fd()), l.CINHOffset, l.CINHSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(cena)
		f.Close()
		return nil, fmt.Errorf("mmio: map register window of %s: %w", path, err)
	}

	logger.Debug("mapped portal", "path", path, "cena", l.CENASize, "cinh", l.CINHSize)
	return &Device{path: path, f: f, cena: cena, cinh: cinh}, nil
}

// Fd returns the device descriptor, which doubles as the UIO interrupt
// descriptor.
func (d *Device) Fd() int { return int(d.f.Fd()) }

func (d *Device) Path() string { return d.path }

func word(b []byte, off uint32) *uint32 {
	if off&3 != 0 || int(off)+4 > len(b) {
		panic(fmt.Sprintf("mmio: offset %#x outside window of %d bytes", off, len(b)))
	}
	return (*uint32)(unsafe.Pointer(&b[off]))
}

// Read32 reads a register.
func (d *Device) Read32(off uint32) uint32 {
	return le(atomic.LoadUint32(word(d.cinh, off)))
}

// Write32 writes a register. Earlier ring stores are ordered before it.
func (d *Device) Write32(off, val uint32) {
	Sfence()
	atomic.StoreUint32(word(d.cinh, off), le(val))
}

func (d *Device) Load32(off uint32) uint32 {
	return le(atomic.LoadUint32(word(d.cena, off)))
}

func (d *Device) Store32(off, val uint32) {
	atomic.StoreUint32(word(d.cena, off), le(val))
}

func (d *Device) Flush(off uint32) {
	_ = word(d.cena, off)
	Sfence()
}

func (d *Device) Invalidate(off uint32) {
	_ = word(d.cena, off)
	Mfence()
}

// Close unmaps both windows and closes the device.
func (d *Device) Close() error {
	var err error
	if d.cena != nil {
		err = multierr.Append(err, unix.Munmap(d.cena))
		d.cena = nil
	}
	if d.cinh != nil {
		err = multierr.Append(err, unix.Munmap(d.cinh))
		d.cinh = nil
	}
	if d.f != nil {
		err = multierr.Append(err, d.f.Close())
		d.f = nil
	}
	return err
}
