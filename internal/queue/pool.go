package queue

import (
	"sync"

	qbman "github.com/ehrlich-b/go-qbman"
)

// Storage pools hand out result storage for pulls that deliver to memory.
// Sizes are bucketed at 4, 8 and 16 entries (16 is the most one pull can
// request). Pointer-to-slice keeps sync.Pool from allocating on Put.

const (
	storage4  = 4
	storage8  = 8
	storage16 = 16
)

var storagePool = struct {
	pool4  sync.Pool
	pool8  sync.Pool
	pool16 sync.Pool
}{
	pool4:  sync.Pool{New: func() any { s := make([]qbman.DQEntry, storage4); return &s }},
	pool8:  sync.Pool{New: func() any { s := make([]qbman.DQEntry, storage8); return &s }},
	pool16: sync.Pool{New: func() any { s := make([]qbman.DQEntry, storage16); return &s }},
}

// GetStorage returns storage for at least n results, n at most 16.
// Callers mark it with qbman.SetOldToken before use and return it with
// PutStorage once every result has been read.
func GetStorage(n int) []qbman.DQEntry {
	switch {
	case n <= storage4:
		return (*storagePool.pool4.Get().(*[]qbman.DQEntry))[:n]
	case n <= storage8:
		return (*storagePool.pool8.Get().(*[]qbman.DQEntry))[:n]
	default:
		return (*storagePool.pool16.Get().(*[]qbman.DQEntry))[:n]
	}
}

// PutStorage returns storage to its bucket. Storage of any other capacity
// is dropped.
func PutStorage(s []qbman.DQEntry) {
	s = s[:cap(s)]
	switch cap(s) {
	case storage4:
		storagePool.pool4.Put(&s)
	case storage8:
		storagePool.pool8.Put(&s)
	case storage16:
		storagePool.pool16.Put(&s)
	}
}

// batchPool holds buffer address batches for release and acquire.
var batchPool = sync.Pool{New: func() any { return new([qbman.MaxReleaseBuffers]uint64) }}

// GetBatch returns a zeroed batch of buffer addresses.
func GetBatch() *[qbman.MaxReleaseBuffers]uint64 {
	b := batchPool.Get().(*[qbman.MaxReleaseBuffers]uint64)
	*b = [qbman.MaxReleaseBuffers]uint64{}
	return b
}

func PutBatch(b *[qbman.MaxReleaseBuffers]uint64) {
	batchPool.Put(b)
}
