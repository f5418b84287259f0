package mmio

import "sync/atomic"

// barrierDummy is the target of fencing read-modify-writes.
var barrierDummy int64

// Sfence orders earlier stores before later ones. atomic.AddInt64 compiles
// to a locked or acquire-release instruction on every supported
// architecture, which is at least a store fence.
func Sfence() {
	atomic.AddInt64(&barrierDummy, 0)
}

// Mfence is a full fence; same implementation as Sfence.
func Mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}
