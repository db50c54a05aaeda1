// Package exchange implements C5 from spec.md: each node issues one-sided
// RDMA writes that deposit each outbound partition at its precomputed
// remote offset; the locally retained partition is copied in-process.
package exchange

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/rdmashuffle/internal/histogram"
	"github.com/dreamware/rdmashuffle/internal/offsets"
	"github.com/dreamware/rdmashuffle/internal/partition"
	"github.com/dreamware/rdmashuffle/internal/region"
	"github.com/dreamware/rdmashuffle/internal/row"
	"github.com/dreamware/rdmashuffle/internal/shuffleconfig"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
	"github.com/dreamware/rdmashuffle/internal/transport"
)

// Stage materialises each destination's outbound rows as one contiguous
// byte run, keyed by destination node id. Within a destination, rows are
// grouped by partition first and emitted in ascending partition order —
// this mirrors how the original C++ implementation staged sends
// (destination -> partition -> rows, see original_source/src/shuffle.cpp)
// and keeps staging and the §4.4 per-partition place[] accounting easy to
// reason about together, even though spec.md only requires one contiguous
// run per destination and does not require any particular intra-partition
// order.
func Stage(rows []row.Row, numPartitions, numNodes uint32) map[uint32][]byte {
	byDestByPart := make(map[uint32]map[uint32][]row.Row)
	for _, r := range rows {
		p := partition.PartOf(r.Key, numPartitions)
		d := partition.OwnerOf(p, numNodes)
		if byDestByPart[d] == nil {
			byDestByPart[d] = make(map[uint32][]row.Row)
		}
		byDestByPart[d][p] = append(byDestByPart[d][p], r)
	}

	staged := make(map[uint32][]byte, len(byDestByPart))
	for d, byPart := range byDestByPart {
		parts := make([]uint32, 0, len(byPart))
		for p := range byPart {
			parts = append(parts, p)
		}
		slices.Sort(parts)

		ordered := make([]row.Row, 0, len(rows))
		for _, p := range parts {
			ordered = append(ordered, byPart[p]...)
		}
		staged[d] = row.EncodeAll(ordered)
	}
	return staged
}

// Send implements spec.md §4.5: for every destination with staged bytes,
// deposit them at the destination's resolved place[myID] slot — a local
// copy if the destination is this node, otherwise a one-sided RDMA write.
// Because place[] partitions the receive region into disjoint per-sender
// slots, sends to distinct destinations are fanned out concurrently with
// no locking (spec.md §5).
func Send(
	ctx context.Context,
	cfg *shuffleconfig.Config,
	matrix histogram.Matrix,
	localView *region.View,
	staged map[uint32][]byte,
	conns map[uint32]transport.Conn,
) error {
	g, ctx := errgroup.WithContext(ctx)

	for dest, data := range staged {
		dest, data := dest, data
		if len(data) == 0 {
			continue
		}

		g.Go(func() error {
			destLayout, err := region.Plan(cfg, dest)
			if err != nil {
				return err
			}
			destTable, err := offsets.Resolve(matrix, dest, cfg.NumNodes, cfg.NumPartitions, destLayout)
			if err != nil {
				return err
			}
			remoteOffset := destLayout.RecvOffset + destTable.Place[cfg.MyID]

			if dest == cfg.MyID {
				copy(localView.Raw()[remoteOffset:remoteOffset+uint64(len(data))], data)
				return nil
			}

			conn, ok := conns[dest]
			if !ok {
				return shuffleerr.New(shuffleerr.Transport, cfg.MyID, fmt.Errorf("no connection to destination node %d", dest))
			}
			if err := conn.Write(ctx, data, remoteOffset); err != nil {
				return shuffleerr.New(shuffleerr.Transport, cfg.MyID, fmt.Errorf("write %d bytes to node %d: %w", len(data), dest, err))
			}
			return nil
		})
	}

	return g.Wait()
}
