package uapi

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"
)

// HostLittleEndian reports whether host words share the device byte order.
var HostLittleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// FromDevice converts a raw little-endian device word to host order.
func FromDevice(raw uint32) uint32 {
	if HostLittleEndian {
		return raw
	}
	return bits.ReverseBytes32(raw)
}

// ToDevice converts a host-order word to the raw little-endian form the
// device writes to memory.
func ToDevice(v uint32) uint32 {
	if HostLittleEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

// TokenFromRaw extracts the token byte (byte 7 of an entry) from the raw,
// unconverted contents of word 1.
func TokenFromRaw(raw uint32) uint8 {
	if HostLittleEndian {
		return uint8(raw >> 24)
	}
	return uint8(raw)
}

// Normalize converts a DMA'd word array to host order in place. Words are
// loaded atomically so a concurrent device write is never torn.
func Normalize(w []uint32) {
	if HostLittleEndian {
		return
	}
	for i := range w {
		w[i] = bits.ReverseBytes32(atomic.LoadUint32(&w[i]))
	}
}

// EncodeWords serialises host-order words to little-endian bytes, the form
// the device reads and writes.
func EncodeWords(w []uint32) []byte {
	buf := make([]byte, 4*len(w))
	for i, v := range w {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf
}

// DecodeWords is the inverse of EncodeWords. Trailing bytes are ignored.
func DecodeWords(buf []byte) []uint32 {
	w := make([]uint32, len(buf)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return w
}
