package nearexec

import (
	"bytes"
	"encoding/binary"
	"math/big"
)

// borshWriter serializes NEAR's transaction wire format (Borsh), which has
// no accompanying Go package in the retrieval pack — the encoding below
// implements exactly the subset NEAR's nearcore/primitives crate specifies
// for Transaction/Action/SignedTransaction: little-endian fixed-width
// integers, u32-length-prefixed strings and vectors, and u8 enum tags.
type borshWriter struct {
	buf bytes.Buffer
}

func (w *borshWriter) WriteU8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *borshWriter) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteU128 encodes v as an unsigned little-endian 128-bit integer, the
// wire format NEAR uses for yoctoNEAR deposit amounts.
func (w *borshWriter) WriteU128(v int64) {
	bi := big.NewInt(v)
	le := bi.Bytes() // big-endian
	out := make([]byte, 16)
	for i, b := range le {
		out[len(le)-1-i] = b
	}
	w.buf.Write(out)
}

func (w *borshWriter) WriteString(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *borshWriter) WriteFixedBytes(b []byte) {
	w.buf.Write(b)
}

func (w *borshWriter) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *borshWriter) Bytes() []byte {
	return w.buf.Bytes()
}
