// Package backend provides host memory for frame buffers.
package backend

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-qbman/internal/interfaces"
)

// Memory is a RAM region exposed to the device at a fixed DMA base address.
// Buffers carved from it are seeded into buffer pools; frames carry their
// addresses.
type Memory struct {
	base   uint64
	data   []byte
	size   int64
	carved int64
	mu     sync.RWMutex
}

// NewMemory creates size bytes of buffer memory at DMA address base.
func NewMemory(base uint64, size int64) *Memory {
	return &Memory{
		base: base,
		data: make([]byte, size),
		size: size,
	}
}

// span clamps n bytes at off to the region; ok is false when off lies
// outside it.
func (m *Memory) span(off int64, n int) (lo, hi int64, ok bool) {
	if off < 0 || off >= m.size {
		return 0, 0, false
	}
	return off, min(off+int64(n), m.size), true
}

// ReadAt copies from buffer memory at offset off. Reads past the end are
// short.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi, ok := m.span(off, len(p))
	if !ok {
		return 0, nil
	}
	return copy(p, m.data[lo:hi]), nil
}

// WriteAt copies p into buffer memory at offset off, truncating at the end.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi, ok := m.span(off, len(p))
	if !ok {
		return 0, fmt.Errorf("write at %d beyond %d bytes of buffer memory", off, m.size)
	}
	return copy(m.data[lo:hi], p), nil
}

// ReadAddr reads from the buffer at DMA address addr.
func (m *Memory) ReadAddr(p []byte, addr uint64) (int, error) {
	off, err := m.Offset(addr)
	if err != nil {
		return 0, err
	}
	return m.ReadAt(p, off)
}

// WriteAddr writes into the buffer at DMA address addr.
func (m *Memory) WriteAddr(p []byte, addr uint64) (int, error) {
	off, err := m.Offset(addr)
	if err != nil {
		return 0, err
	}
	return m.WriteAt(p, off)
}

func (m *Memory) Size() int64 {
	return m.size
}

func (m *Memory) Base() uint64 {
	return m.base
}

// Offset converts a DMA address inside the region to an offset.
func (m *Memory) Offset(addr uint64) (int64, error) {
	if addr < m.base || addr-m.base >= uint64(m.size) {
		return 0, fmt.Errorf("address %#x outside buffer memory [%#x, %#x)", addr, m.base, m.base+uint64(m.size))
	}
	return int64(addr - m.base), nil
}

// Carve reserves count buffers of bufSize bytes from the unused part of the
// region and returns their DMA addresses. bufSize is rounded up to 64 bytes.
func (m *Memory) Carve(count int, bufSize int64) ([]uint64, error) {
	if count <= 0 || bufSize <= 0 {
		return nil, fmt.Errorf("invalid carve of %d buffers of %d bytes", count, bufSize)
	}
	bufSize = (bufSize + 63) &^ 63

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carved+int64(count)*bufSize > m.size {
		return nil, fmt.Errorf("buffer memory exhausted: %d of %d bytes carved, %d more requested",
			m.carved, m.size, int64(count)*bufSize)
	}
	addrs := make([]uint64, count)
	for i := range addrs {
		addrs[i] = m.base + uint64(m.carved)
		m.carved += bufSize
	}
	return addrs, nil
}

// Close drops the region. Addresses carved from it become invalid.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data, m.size, m.carved = nil, 0, 0
	return nil
}

// Discard zeroes length bytes at offset, scrubbing a buffer before it goes
// back to its pool.
func (m *Memory) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if length < 0 {
		return fmt.Errorf("negative discard length %d", length)
	}
	if lo, hi, ok := m.span(offset, int(length)); ok {
		clear(m.data[lo:hi])
	}
	return nil
}

func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"type":   "dma",
		"base":   m.base,
		"size":   m.size,
		"carved": m.carved,
		"free":   m.size - m.carved,
	}
}

var (
	_ interfaces.Backend        = (*Memory)(nil)
	_ interfaces.DiscardBackend = (*Memory)(nil)
	_ interfaces.StatBackend    = (*Memory)(nil)
)
