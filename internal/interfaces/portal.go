// Package interfaces holds the narrow views a portal is driven through.
package interfaces

// Registers is the cache-inhibited control window of a portal. Every access
// reaches the device immediately and in program order.
type Registers interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// Memory is the cache-enabled window holding the command and result rings.
// Load32 and Store32 operate on host-order values of the little-endian
// device words. Flush publishes the 64-byte line containing off to the
// device; Invalidate discards any cached copy of it before a read.
type Memory interface {
	Load32(off uint32) uint32
	Store32(off uint32, val uint32)
	Flush(off uint32)
	Invalidate(off uint32)
}

// Waiter blocks until the portal interrupt line fires or the timeout expires.
type Waiter interface {
	Wait(timeoutNs int64) (bool, error)
	Close() error
}
