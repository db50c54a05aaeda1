// Package offsets implements C4 from spec.md: from the complete histogram
// matrix, every node computes where each sender must place its
// contribution inside the local receive region.
//
// Contributions are laid out by sender order (sender 0 first, sender 1
// next, ...), which is canonical: because the matrix is identical on every
// node, every sender independently computes the same place[myID] on every
// receiver without further coordination.
package offsets

import (
	"fmt"

	"github.com/dreamware/rdmashuffle/internal/histogram"
	"github.com/dreamware/rdmashuffle/internal/partition"
	"github.com/dreamware/rdmashuffle/internal/region"
	"github.com/dreamware/rdmashuffle/internal/row"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
)

// Table is the resolved per-sender placement for one receiver (the node
// that computed it). Place[s] is the byte offset, relative to the local
// receive region's base, where sender s must write its contribution.
// SizeBytes[s] is the length of that contribution in bytes.
type Table struct {
	Place     []uint64 // relative to recv_base, length numNodes
	SizeBytes []uint64 // length numNodes
	TotalRecv uint64   // total bytes this node will receive
	TotalRows uint64   // TotalRecv / row.Size
}

// Resolve computes the Table for receiver myID given the complete
// histogram matrix. It fails with an Overflow error if the computed
// TotalRecv exceeds the receive region's capacity (layout.RecvLen),
// before any data write is issued, per spec.md §7.
func Resolve(m histogram.Matrix, myID, numNodes, numPartitions uint32, layout region.Layout) (Table, error) {
	place := make([]uint64, numNodes)
	size := make([]uint64, numNodes)

	var running uint64
	for s := uint32(0); s < numNodes; s++ {
		var rows uint64
		for p := uint32(0); p < numPartitions; p++ {
			if partition.OwnerOf(p, numNodes) == myID {
				rows += m[s][p]
			}
		}
		size[s] = rows * uint64(row.Size)
		place[s] = running
		running += size[s]
	}

	if running > layout.RecvLen {
		return Table{}, shuffleerr.New(shuffleerr.Overflow, myID, fmt.Errorf(
			"resolved receive size %d bytes exceeds receive region capacity %d bytes", running, layout.RecvLen,
		))
	}

	return Table{
		Place:     place,
		SizeBytes: size,
		TotalRecv: running,
		TotalRows: running / uint64(row.Size),
	}, nil
}
