// Package region implements C2 from spec.md: the memory-region layout
// planner. It turns a ClusterConfig into the fixed, deterministic offsets
// table described in spec.md §3, and wraps a raw MemoryRegion buffer in a
// typed view exposing the named sub-regions (input, barrier counter,
// histogram row, receive region) rather than raw pointer arithmetic.
//
// # Layout
//
//	[0,             L_in)      input tuples
//	[L_in,          L_in+8)    barrier counter (8 bytes, 8-byte aligned)
//	[L_in+8,        L_in+8+H)  histogram matrix, row-major N x P, u64
//	[L_in+8+H,      mem_size)  receive region
//
// Every offset below is a pure function of Config alone (N, P,
// NumRowsLocal, MemSize), so it is byte-identical on every node without
// any coordination — the property spec.md §8 calls "layout determinism".
package region

import (
	"fmt"

	"github.com/dreamware/rdmashuffle/internal/row"
	"github.com/dreamware/rdmashuffle/internal/shuffleconfig"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
)

// BarrierCounterSize is the fixed width of the barrier counter slot.
const BarrierCounterSize = 8

// Layout is the offsets table derived from a ClusterConfig. All fields are
// absolute byte offsets into the MemoryRegion.
type Layout struct {
	InputLen      uint64 // L_in: bytes reserved for this node's input tuples
	BarrierOffset uint64 // offset of the 8-byte barrier counter
	HistOffset    uint64 // offset of the N x P histogram matrix
	HistLen       uint64 // H: byte length of the histogram matrix
	RecvOffset    uint64 // offset of the receive region
	RecvLen       uint64 // capacity of the receive region, in bytes
	MemSize       uint64 // total region size (cfg.MemSize)
}

// Plan computes the Layout for nodeID under cfg. Because NumRowsLocal,
// NumNodes, NumPartitions and MemSize are all part of the shared,
// cluster-wide Config, any node can call Plan(cfg, d) to learn node d's
// layout without asking d — this is what spec.md §3 means by "the same
// table must be reproducible on every node purely from ClusterConfig".
// Plan fails with a Config error if the fixed portion of the layout
// (input + barrier + histogram) reaches or exceeds mem_size, leaving no
// bytes for the receive region, matching spec.md §4.2.
func Plan(cfg *shuffleconfig.Config, nodeID uint32) (Layout, error) {
	inputLen := cfg.NumRowsLocal[nodeID] * uint64(row.Size)
	histLen := uint64(cfg.NumNodes) * uint64(cfg.NumPartitions) * 8
	barrierOffset := inputLen
	histOffset := barrierOffset + BarrierCounterSize
	recvOffset := histOffset + histLen

	if recvOffset >= cfg.MemSize {
		return Layout{}, shuffleerr.New(shuffleerr.Config, nodeID, fmt.Errorf(
			"layout for node %d requires at least %d bytes before the receive region, mem_size is %d",
			nodeID, recvOffset, cfg.MemSize,
		))
	}

	return Layout{
		InputLen:      inputLen,
		BarrierOffset: barrierOffset,
		HistOffset:    histOffset,
		HistLen:       histLen,
		RecvOffset:    recvOffset,
		RecvLen:       cfg.MemSize - recvOffset,
		MemSize:       cfg.MemSize,
	}, nil
}

// HistRowOffset returns the absolute byte offset of sender s's row in the
// histogram matrix, identical on every node.
func (l Layout) HistRowOffset(s uint32, numPartitions uint32) uint64 {
	return l.HistOffset + uint64(s)*uint64(numPartitions)*8
}

// View wraps a live MemoryRegion buffer with the typed sub-slice accessors
// the rest of the shuffle uses instead of raw pointer arithmetic.
type View struct {
	Layout Layout
	buf    []byte
}

// NewView wraps buf, which must have length >= MemSize, using the given
// layout. buf's first InputLen bytes are expected to already hold the
// node's input tuples.
func NewView(buf []byte, layout Layout) (*View, error) {
	if uint64(len(buf)) < layout.MemSize {
		return nil, fmt.Errorf("region buffer too small: have %d bytes, need %d", len(buf), layout.MemSize)
	}
	return &View{Layout: layout, buf: buf}, nil
}

// Input returns the sub-slice holding this node's pre-shuffle input rows.
func (v *View) Input() []byte {
	return v.buf[:v.Layout.InputLen]
}

// InputRows decodes the input sub-slice as Rows.
func (v *View) InputRows() []row.Row {
	return row.DecodeAll(v.Input())
}

// BarrierCounter returns the 8-byte barrier counter slot.
func (v *View) BarrierCounter() []byte {
	return v.buf[v.Layout.BarrierOffset : v.Layout.BarrierOffset+BarrierCounterSize]
}

// HistogramRow returns the histogram-matrix row belonging to sender s,
// out of numPartitions columns.
func (v *View) HistogramRow(s uint32, numPartitions uint32) []byte {
	off := v.Layout.HistRowOffset(s, numPartitions)
	return v.buf[off : off+uint64(numPartitions)*8]
}

// Histogram returns the full histogram matrix sub-slice.
func (v *View) Histogram() []byte {
	return v.buf[v.Layout.HistOffset : v.Layout.HistOffset+v.Layout.HistLen]
}

// Receive returns the full receive-region sub-slice (capacity, not the
// valid prefix — callers must bound reads to the resolved total_recv).
func (v *View) Receive() []byte {
	return v.buf[v.Layout.RecvOffset : v.Layout.RecvOffset+v.Layout.RecvLen]
}

// ReceiveRows decodes the first n rows of the receive region.
func (v *View) ReceiveRows(n uint64) []row.Row {
	return row.DecodeAll(v.buf[v.Layout.RecvOffset : v.Layout.RecvOffset+n*uint64(row.Size)])
}

// Raw exposes the underlying buffer, used only by the transport loopback
// and by components writing at an absolute offset derived from
// internal/offsets.
func (v *View) Raw() []byte { return v.buf }
