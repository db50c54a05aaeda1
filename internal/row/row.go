// Package row defines the fixed-width tuple shuffled across the cluster.
package row

import "encoding/binary"

// Row is a fixed-width, bitwise-copyable record. Every node agrees on its
// size and layout; the shuffle never interprets Row beyond reading Key to
// decide a destination partition.
type Row struct {
	Key   uint64
	Value uint64
}

// Size is the on-the-wire byte width of a single Row. It is what spec.md
// calls row_size: every offset computed in internal/region and
// internal/offsets is a multiple of Size.
const Size = 16

// Encode writes r into dst in little-endian form. dst must have length
// Size or greater; only the first Size bytes are written.
func (r Row) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], r.Key)
	binary.LittleEndian.PutUint64(dst[8:16], r.Value)
}

// Decode reads a Row out of src, which must have length Size or greater.
func Decode(src []byte) Row {
	return Row{
		Key:   binary.LittleEndian.Uint64(src[0:8]),
		Value: binary.LittleEndian.Uint64(src[8:16]),
	}
}

// EncodeAll serialises rows into a freshly allocated byte slice of length
// len(rows)*Size, in order.
func EncodeAll(rows []Row) []byte {
	buf := make([]byte, len(rows)*Size)
	for i, r := range rows {
		r.Encode(buf[i*Size : (i+1)*Size])
	}
	return buf
}

// DecodeAll parses buf as a contiguous run of Rows. len(buf) must be a
// multiple of Size.
func DecodeAll(buf []byte) []Row {
	n := len(buf) / Size
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		rows[i] = Decode(buf[i*Size : (i+1)*Size])
	}
	return rows
}
