package qbman

import (
	"unsafe"

	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// EntryWords returns the word view of entries, the layout a device writes
// into user storage. The slice aliases entries.
func EntryWords(entries []DQEntry) []uint32 {
	if len(entries) == 0 {
		return nil
	}
	return unsafe.Slice(&entries[0].w[0], len(entries)*uapi.EntryWords)
}

// ResponseWords returns the word view of an enqueue response record.
func ResponseWords(r *EqResponse) []uint32 {
	return r.w[:]
}

// EntriesFromBytes views DMA-capable memory (for example a mapped hugepage)
// as dequeue storage. buf must be 4-byte aligned and a multiple of 64 bytes.
func EntriesFromBytes(buf []byte) ([]DQEntry, error) {
	if len(buf) == 0 || len(buf)%uapi.LineSize != 0 {
		return nil, NewError("storage", ErrCodeInvalidArgument, "buffer length must be a non-zero multiple of 64")
	}
	if uintptr(unsafe.Pointer(&buf[0]))%4 != 0 {
		return nil, NewError("storage", ErrCodeInvalidArgument, "buffer is not word aligned")
	}
	return unsafe.Slice((*DQEntry)(unsafe.Pointer(&buf[0])), len(buf)/uapi.LineSize), nil
}
