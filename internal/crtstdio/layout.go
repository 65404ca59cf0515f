// Package crtstdio packs the Windows CRT stdio hand-off buffer consumed
// by a child's C runtime via STARTUPINFO's lpReserved2/cbReserved2.
package crtstdio

import (
	"encoding/binary"
)

// Flag bits for one slot's crt_flags byte.
const (
	FOPEN Flag = 0x01
	FPIPE Flag = 0x08
	FDEV  Flag = 0x40
)

type Flag byte

// Slot is one child descriptor's CRT hand-off entry.
type Slot struct {
	Flags  Flag
	Handle uintptr // the inheritable kernel handle, or InvalidHandle
}

// InvalidHandle mirrors INVALID_HANDLE_VALUE (-1 as a uintptr), so that
// callers and tests can mark an unused slot without importing windows.
const InvalidHandle = ^uintptr(0)

// Build packs slots into the CRT stdio hand-off layout:
//
//	offset 0       : int32 count
//	offset 4       : byte  crt_flags[count]
//	offset 4+count : uintptr handle[count]
func Build(slots []Slot, ptrSize int) []byte {
	count := len(slots)
	buf := make([]byte, 4+count+count*ptrSize)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(count))
	for i, s := range slots {
		buf[4+i] = byte(s.Flags)
	}
	handleOff := 4 + count
	for i, s := range slots {
		off := handleOff + i*ptrSize
		if ptrSize == 8 {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(s.Handle))
		} else {
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(s.Handle))
		}
	}
	return buf
}
