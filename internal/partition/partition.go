// Package partition implements C1 from spec.md: the pure, total functions
// mapping a row key to a partition id and a partition id to its owning
// node. Both are cheap modulo arithmetic, allocate nothing, and must be
// stable across every node in the cluster.
package partition

import "golang.org/x/sync/errgroup"

// PartOf returns the partition id for key under numPartitions partitions.
// part_of(key) = key mod P.
func PartOf(key uint64, numPartitions uint32) uint32 {
	return uint32(key % uint64(numPartitions))
}

// OwnerOf returns the node id that owns part under a cluster of numNodes
// nodes. owner_of(part) = part mod N.
func OwnerOf(part uint32, numNodes uint32) uint32 {
	return part % numNodes
}

// DestinationOf composes PartOf and OwnerOf to give the destination node
// for a row with the given key.
func DestinationOf(key uint64, numPartitions, numNodes uint32) uint32 {
	return OwnerOf(PartOf(key, numPartitions), numNodes)
}

// LocalHistogram implements spec.md §4.3 Step A: a single O(n+P) scan
// producing local_counts[p], the number of keys in keys mapping to
// partition p.
func LocalHistogram(keys []uint64, numPartitions uint32) []uint64 {
	counts := make([]uint64, numPartitions)
	for _, k := range keys {
		counts[PartOf(k, numPartitions)]++
	}
	return counts
}

// LocalHistogramConcurrent is the optional intra-node-parallel form of
// LocalHistogram spec.md §5 permits: "partitioning the local scan across
// worker threads is permitted but optional; if used, workers operate on
// disjoint input slices, and the driver re-aggregates counts with an
// associative reduction before any RDMA write." Each of workers goroutines
// scans a disjoint, contiguous slice of keys and produces its own partial
// []uint64; the partials are summed (the associative reduction) once every
// worker returns. The result is identical to LocalHistogram(keys,
// numPartitions) for any workers >= 1. workers <= 1 or len(keys) too small
// to split usefully falls back to the serial scan directly.
func LocalHistogramConcurrent(keys []uint64, numPartitions uint32, workers int) []uint64 {
	if workers <= 1 || len(keys) < workers {
		return LocalHistogram(keys, numPartitions)
	}

	chunk := (len(keys) + workers - 1) / workers
	partials := make([][]uint64, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		if start >= len(keys) {
			partials[w] = make([]uint64, numPartitions)
			continue
		}
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		g.Go(func() error {
			partials[w] = LocalHistogram(keys[start:end], numPartitions)
			return nil
		})
	}
	_ = g.Wait() // LocalHistogram never errors; Wait only drains the goroutines

	total := make([]uint64, numPartitions)
	for _, partial := range partials {
		for p, c := range partial {
			total[p] += c
		}
	}
	return total
}
