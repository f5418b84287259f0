// Package ring tracks producer and consumer cursors of the portal rings.
//
// Indices run over twice the ring depth so that the extra bit carries the
// wrap parity. The slot valid bit is derived from that parity: the first pass
// over a freshly zeroed ring writes slots with the valid bit set.
package ring

import "github.com/ehrlich-b/go-qbman/internal/uapi"

// Producer is the software side of a command ring (EQCR, RCR).
type Producer struct {
	size uint32
	pi   uint32
	ci   uint32 // last consumer index observed from hardware
}

// NewProducer returns a producer for a ring of the given depth.
func NewProducer(size uint32) *Producer {
	return &Producer{size: size}
}

func (p *Producer) wrap() uint32 { return 2 * p.size }

// Size returns the ring depth.
func (p *Producer) Size() uint32 { return p.size }

// Fill returns the number of submitted slots not yet consumed, according to
// the cached consumer index.
func (p *Producer) Fill() uint32 {
	return (p.pi + p.wrap() - p.ci) % p.wrap()
}

// Free returns the number of writable slots according to the cached
// consumer index.
func (p *Producer) Free() uint32 {
	return p.size - p.Fill()
}

// Sync records a consumer index read from hardware.
func (p *Producer) Sync(ci uint32) {
	p.ci = ci % p.wrap()
}

// Slot returns the ring slot the next command goes into.
func (p *Producer) Slot() uint32 { return p.pi % p.size }

// ValidBit returns the valid bit for the next command.
func (p *Producer) ValidBit() uint32 {
	if p.pi < p.size {
		return uapi.ValidBit
	}
	return 0
}

// Advance moves past the slot just written and returns the new producer
// index for the doorbell.
func (p *Producer) Advance() uint32 {
	p.pi = (p.pi + 1) % p.wrap()
	return p.pi
}

// PI returns the current producer index including the wrap bit.
func (p *Producer) PI() uint32 { return p.pi }

// Restore adopts producer and consumer indices read back from hardware.
func (p *Producer) Restore(pi, ci uint32) {
	p.pi = pi % p.wrap()
	p.ci = ci % p.wrap()
}

// Consumer is the software side of a result ring (DQRR).
type Consumer struct {
	size uint32
	next uint32
	vb   uint32
}

// NewConsumer returns a consumer for a ring of the given depth.
func NewConsumer(size uint32) *Consumer {
	return &Consumer{size: size, vb: uapi.ValidBit}
}

// Size returns the ring depth.
func (c *Consumer) Size() uint32 { return c.size }

// Next returns the slot expected to hold the next result.
func (c *Consumer) Next() uint32 { return c.next }

// Ready reports whether word0 of the next slot carries the expected valid
// bit, i.e. hardware has written it during the current pass.
func (c *Consumer) Ready(word0 uint32) bool {
	return word0&uapi.ValidBit == c.vb
}

// Advance moves to the following slot, flipping the expected valid bit on
// wrap.
func (c *Consumer) Advance() {
	c.next++
	if c.next == c.size {
		c.next = 0
		c.vb ^= uapi.ValidBit
	}
}
