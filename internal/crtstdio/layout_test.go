package crtstdio

import (
	"encoding/binary"
	"testing"
)

func TestBuildLayout64Bit(t *testing.T) {
	slots := []Slot{
		{Flags: FOPEN | FDEV, Handle: 0x10},
		{Flags: FOPEN | FPIPE, Handle: 0x20},
		{Flags: 0, Handle: InvalidHandle},
	}
	buf := Build(slots, 8)

	wantLen := 4 + len(slots) + len(slots)*8
	if len(buf) != wantLen {
		t.Fatalf("len(buf) = %d, want %d", len(buf), wantLen)
	}

	if got := binary.LittleEndian.Uint32(buf[0:4]); got != uint32(len(slots)) {
		t.Errorf("count = %d, want %d", got, len(slots))
	}

	for i, s := range slots {
		if got := Flag(buf[4+i]); got != s.Flags {
			t.Errorf("slot %d flags = %#x, want %#x", i, got, s.Flags)
		}
	}

	handleOff := 4 + len(slots)
	for i, s := range slots {
		off := handleOff + i*8
		got := binary.LittleEndian.Uint64(buf[off : off+8])
		if got != uint64(s.Handle) {
			t.Errorf("slot %d handle = %#x, want %#x", i, got, s.Handle)
		}
	}
}

func TestBuildLayout32Bit(t *testing.T) {
	slots := []Slot{{Flags: FOPEN, Handle: 0x1234}}
	buf := Build(slots, 4)

	wantLen := 4 + 1 + 1*4
	if len(buf) != wantLen {
		t.Fatalf("len(buf) = %d, want %d", len(buf), wantLen)
	}
	got := binary.LittleEndian.Uint32(buf[5:9])
	if got != 0x1234 {
		t.Errorf("handle = %#x, want 0x1234", got)
	}
}

func TestBuildEmpty(t *testing.T) {
	buf := Build(nil, 8)
	if len(buf) != 4 {
		t.Fatalf("len(buf) = %d, want 4", len(buf))
	}
	if binary.LittleEndian.Uint32(buf) != 0 {
		t.Errorf("count = %d, want 0", binary.LittleEndian.Uint32(buf))
	}
}
