package interfaces

// Backend is host memory holding frame buffers. The device sees it at a DMA
// base address; ReadAt and WriteAt offsets are relative to that base.
type Backend interface {
	// ReadAt reads len(p) bytes into p starting at offset off. Reads past
	// the end are short and return no error.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes p at offset off. Writes starting past the end fail;
	// writes running past it are truncated.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size returns the size of the memory in bytes.
	Size() int64

	// Base returns the DMA address of offset 0.
	Base() uint64

	// Close releases the memory. No other method may be called afterwards.
	Close() error
}

// DiscardBackend can scrub buffers returned to a pool.
type DiscardBackend interface {
	Backend

	// Discard zeroes length bytes at offset.
	Discard(offset, length int64) error
}

// StatBackend reports memory statistics.
type StatBackend interface {
	Backend

	// Stats returns backend-specific statistics.
	Stats() map[string]interface{}
}
