package qbman

import "github.com/ehrlich-b/go-qbman/internal/uapi"

// FD is a frame descriptor: the 32-byte record enqueued to and dequeued from
// frame queues. Only the fields the portal itself cares about get accessors;
// the rest is carried opaquely.
type FD struct {
	w [uapi.FDWords]uint32
}

// FD formats
const (
	FDFormatSingle   uint8 = 0
	FDFormatList     uint8 = 1
	FDFormatSG       uint8 = 2
	FDFormatReserved uint8 = 3
)

// Addr returns the buffer DMA address.
func (f *FD) Addr() uint64 {
	return uapi.Get64(f.w[:], uapi.FDAddrWord)
}

func (f *FD) SetAddr(a uint64) {
	uapi.Set64(f.w[:], uapi.FDAddrWord, a)
}

// Len returns the frame length in bytes.
func (f *FD) Len() uint32 {
	return f.w[uapi.FDLenWord]
}

func (f *FD) SetLen(n uint32) {
	f.w[uapi.FDLenWord] = n
}

// BPID returns the pool the buffer is released to once the frame is freed.
func (f *FD) BPID() uint16 {
	return uint16(uapi.FDBPID.Get(f.w[:]))
}

func (f *FD) SetBPID(id uint16) {
	uapi.FDBPID.Set(f.w[:], uint32(id))
}

// Offset returns the start of frame data inside the buffer.
func (f *FD) Offset() uint16 {
	return uint16(uapi.FDOffset.Get(f.w[:]))
}

func (f *FD) SetOffset(o uint16) {
	uapi.FDOffset.Set(f.w[:], uint32(o))
}

func (f *FD) Format() uint8 {
	return uint8(uapi.FDFormat.Get(f.w[:]))
}

func (f *FD) SetFormat(v uint8) {
	uapi.FDFormat.Set(f.w[:], uint32(v))
}

// FRC is the frame context word, passed through untouched.
func (f *FD) FRC() uint32 {
	return f.w[uapi.FDFRCWord]
}

func (f *FD) SetFRC(v uint32) {
	f.w[uapi.FDFRCWord] = v
}

func (f *FD) Ctrl() uint32 {
	return f.w[uapi.FDCtrlWord]
}

func (f *FD) SetCtrl(v uint32) {
	f.w[uapi.FDCtrlWord] = v
}

// FLC is the 64-bit flow context.
func (f *FD) FLC() uint64 {
	return uapi.Get64(f.w[:], uapi.FDFLCWord)
}

func (f *FD) SetFLC(v uint64) {
	uapi.Set64(f.w[:], uapi.FDFLCWord, v)
}

// InvalidPool reports whether the buffer does not belong to a pool and must
// not be released on the frame's behalf.
func (f *FD) InvalidPool() bool {
	return uapi.FDIVP.GetBool(f.w[:])
}

func (f *FD) SetInvalidPool(v bool) {
	uapi.FDIVP.SetBool(f.w[:], v)
}

// Words returns the raw descriptor words.
func (f *FD) Words() [uapi.FDWords]uint32 {
	return f.w
}

// FDFromWords builds a descriptor from raw words.
func FDFromWords(w [uapi.FDWords]uint32) FD {
	return FD{w: w}
}
