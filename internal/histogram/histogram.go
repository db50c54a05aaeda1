// Package histogram implements C3 from spec.md: each node computes its
// per-partition send counts and distributes the resulting N x P count
// matrix to every peer via one-sided writes into the shared histogram
// sub-region planned by internal/region.
package histogram

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/rdmashuffle/internal/partition"
	"github.com/dreamware/rdmashuffle/internal/region"
	"github.com/dreamware/rdmashuffle/internal/shuffleconfig"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
	"github.com/dreamware/rdmashuffle/internal/transport"
)

// encodeCounts serialises a []uint64 into little-endian bytes.
func encodeCounts(counts []uint64) []byte {
	buf := make([]byte, len(counts)*8)
	for i, c := range counts {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], c)
	}
	return buf
}

// decodeCounts parses a little-endian byte run back into counts.
func decodeCounts(buf []byte) []uint64 {
	counts := make([]uint64, len(buf)/8)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return counts
}

// Local performs spec.md §4.3 Step A: the O(num_rows_local + P) scan
// producing local_counts.
func Local(keys []uint64, numPartitions uint32) []uint64 {
	return partition.LocalHistogram(keys, numPartitions)
}

// LocalConcurrent is Local's optional intra-node-parallel form (spec.md
// §5): the scan is split across workers disjoint slices and the partial
// histograms are reduced associatively before Publish ever touches the
// region. workers <= 1 behaves exactly like Local.
func LocalConcurrent(keys []uint64, numPartitions uint32, workers int) []uint64 {
	return partition.LocalHistogramConcurrent(keys, numPartitions, workers)
}

// Publish performs Steps B and C of spec.md §4.3: it writes localCounts
// into the node's own histogram row (self-publish) and, for every peer
// connection given, issues a one-sided write depositing the same row into
// the peer's histogram matrix (remote-publish). peers must not include an
// entry for cfg.MyID. Writes to distinct peers are fanned out concurrently
// since each targets a disjoint remote row (spec.md §5: "row-disjoint
// writers").
//
// Every peer's histogram matrix lives at its own HistOffset, which is
// InputLen+8 bytes in — and InputLen is NumRowsLocal[node]*row.Size, so it
// varies with that node's row count. A destination's row offset can
// therefore only be computed from *that destination's* layout, never from
// the local node's: Publish resolves region.Plan(cfg, dest) per
// destination rather than reusing one locally-computed offset for every
// peer (the same per-destination layout resolution internal/exchange does
// for data writes).
func Publish(ctx context.Context, cfg *shuffleconfig.Config, v *region.View, localCounts []uint64, peers map[uint32]transport.Conn) error {
	payload := encodeCounts(localCounts)
	copy(v.HistogramRow(cfg.MyID, cfg.NumPartitions), payload)

	g, ctx := errgroup.WithContext(ctx)
	for dest, conn := range peers {
		dest, conn := dest, conn
		g.Go(func() error {
			destLayout, err := region.Plan(cfg, dest)
			if err != nil {
				return err
			}
			remoteOffset := destLayout.HistRowOffset(cfg.MyID, cfg.NumPartitions)
			if err := conn.Write(ctx, payload, remoteOffset); err != nil {
				return shuffleerr.New(shuffleerr.Transport, cfg.MyID, fmt.Errorf("publish histogram row to node %d: %w", dest, err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Matrix is the complete N x P histogram: Matrix[s][p] is the number of
// rows sender s will send for partition p.
type Matrix [][]uint64

// ReadMatrix decodes the complete histogram matrix out of v, valid only
// after the histogram barrier has returned (spec.md §4.3 Step D).
func ReadMatrix(v *region.View, numNodes, numPartitions uint32) Matrix {
	m := make(Matrix, numNodes)
	for s := uint32(0); s < numNodes; s++ {
		m[s] = decodeCounts(v.HistogramRow(s, numPartitions))
	}
	return m
}
