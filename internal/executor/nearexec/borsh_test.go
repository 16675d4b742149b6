package nearexec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBorshWriter_FixedWidthInts(t *testing.T) {
	w := &borshWriter{}
	w.WriteU8(0xAB)
	w.WriteU32(0x01020304)
	w.WriteU64(0x0102030405060708)
	b := w.Bytes()

	if len(b) != 1+4+8 {
		t.Fatalf("unexpected length: %d", len(b))
	}
	if b[0] != 0xAB {
		t.Errorf("u8 = %x, want 0xAB", b[0])
	}
	if got := binary.LittleEndian.Uint32(b[1:5]); got != 0x01020304 {
		t.Errorf("u32 = %x, want 0x01020304", got)
	}
	if got := binary.LittleEndian.Uint64(b[5:13]); got != 0x0102030405060708 {
		t.Errorf("u64 = %x, want 0x0102030405060708", got)
	}
}

func TestBorshWriter_String(t *testing.T) {
	w := &borshWriter{}
	w.WriteString("alice.near")
	b := w.Bytes()

	wantLen := binary.LittleEndian.Uint32(b[:4])
	if int(wantLen) != len("alice.near") {
		t.Fatalf("length prefix = %d, want %d", wantLen, len("alice.near"))
	}
	if string(b[4:]) != "alice.near" {
		t.Errorf("string payload = %q, want %q", b[4:], "alice.near")
	}
}

func TestBorshWriter_U128RoundTripsLittleEndian(t *testing.T) {
	w := &borshWriter{}
	w.WriteU128(1)
	b := w.Bytes()
	if len(b) != 16 {
		t.Fatalf("u128 length = %d, want 16", len(b))
	}
	if b[0] != 1 {
		t.Errorf("u128(1) least-significant byte = %d, want 1", b[0])
	}
	for i := 1; i < 16; i++ {
		if b[i] != 0 {
			t.Errorf("u128(1) byte %d = %d, want 0", i, b[i])
		}
	}
}

func TestBorshWriter_Bytes(t *testing.T) {
	w := &borshWriter{}
	w.WriteBytes([]byte{1, 2, 3})
	b := w.Bytes()
	if !bytes.Equal(b, []byte{3, 0, 0, 0, 1, 2, 3}) {
		t.Errorf("WriteBytes output = %v, want length-prefixed [3 0 0 0 1 2 3]", b)
	}
}
