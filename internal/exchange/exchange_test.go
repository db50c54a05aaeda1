package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/rdmashuffle/internal/histogram"
	"github.com/dreamware/rdmashuffle/internal/offsets"
	"github.com/dreamware/rdmashuffle/internal/partition"
	"github.com/dreamware/rdmashuffle/internal/region"
	"github.com/dreamware/rdmashuffle/internal/row"
	"github.com/dreamware/rdmashuffle/internal/shuffleconfig"
	"github.com/dreamware/rdmashuffle/internal/transport"
	"github.com/dreamware/rdmashuffle/internal/transport/loopback"
)

func TestStageGroupsByDestinationThenPartition(t *testing.T) {
	const numPartitions, numNodes = 4, 2
	rows := []row.Row{
		{Key: 0, Value: 1}, // part 0 -> node 0
		{Key: 1, Value: 2}, // part 1 -> node 1
		{Key: 4, Value: 3}, // part 0 -> node 0
		{Key: 2, Value: 4}, // part 2 -> node 0
	}

	staged := Stage(rows, numPartitions, numNodes)

	decoded0 := row.DecodeAll(staged[0])
	require.Len(t, decoded0, 3)
	// Within destination 0, partitions are emitted in ascending order (0 before 2):
	// both rows for partition 0 precede the row for partition 2.
	require.Equal(t, uint64(0), decoded0[0].Key)
	require.Equal(t, uint64(4), decoded0[1].Key)
	require.Equal(t, uint64(2), decoded0[2].Key)

	decoded1 := row.DecodeAll(staged[1])
	require.Equal(t, []row.Row{{Key: 1, Value: 2}}, decoded1)
}

func TestStageConservesRowCount(t *testing.T) {
	const numPartitions, numNodes = 6, 3
	rows := make([]row.Row, 0, 500)
	for i := uint64(0); i < 500; i++ {
		rows = append(rows, row.Row{Key: i * 13, Value: i})
	}

	staged := Stage(rows, numPartitions, numNodes)

	var total int
	for _, data := range staged {
		total += len(data) / row.Size
	}
	require.Equal(t, len(rows), total)
}

func TestStageEmptyInput(t *testing.T) {
	require.Empty(t, Stage(nil, 4, 2))
}

func buildNode(t *testing.T, cfg *shuffleconfig.Config, nodeID uint32, broker *loopback.Broker) (*region.View, *loopback.Fabric) {
	t.Helper()
	layout, err := region.Plan(cfg, nodeID)
	require.NoError(t, err)
	v, err := region.NewView(make([]byte, layout.MemSize), layout)
	require.NoError(t, err)

	f := loopback.NewFabric(broker, cfg.IP(nodeID))
	require.NoError(t, f.RegisterMemory(v.Raw()))
	return v, f
}

func TestSendDepositsAtResolvedOffsets(t *testing.T) {
	cfg := &shuffleconfig.Config{
		NodeIPs:       []string{"node-0", "node-1"},
		NumNodes:      2,
		NumPartitions: 2, // partition p owned by node p
		NumRowsLocal:  []uint64{2, 0},
		MemSize:       1 << 14,
	}

	broker := loopback.NewBroker()
	v0, f0 := buildNode(t, cfg, 0, broker)
	v1, f1 := buildNode(t, cfg, 1, broker)

	conns := map[uint32]transport.Conn{}
	c00, err := f0.Connect(context.Background(), cfg.IP(0))
	require.NoError(t, err)
	c01, err := f0.Connect(context.Background(), cfg.IP(1))
	require.NoError(t, err)
	conns[0] = c00
	conns[1] = c01
	_ = f1

	// node 0 has two input rows: one destined for partition 0 (itself),
	// one for partition 1 (node 1).
	inputRows := []row.Row{
		{Key: 0, Value: 111}, // part_of(0,2)=0 -> node 0
		{Key: 1, Value: 222}, // part_of(1,2)=1 -> node 1
	}
	copy(v0.Raw(), row.EncodeAll(inputRows))

	matrix := histogram.Matrix{
		{1, 1}, // node 0 sends 1 row to partition 0, 1 row to partition 1
		{0, 0}, // node 1 has nothing to send
	}

	staged := Stage(v0.InputRows(), cfg.NumPartitions, cfg.NumNodes)
	require.NoError(t, Send(context.Background(), cfg, matrix, v0, staged, conns))

	layout0, err := region.Plan(cfg, 0)
	require.NoError(t, err)
	table0, err := offsets.Resolve(matrix, 0, cfg.NumNodes, cfg.NumPartitions, layout0)
	require.NoError(t, err)
	got0 := row.DecodeAll(v0.Raw()[layout0.RecvOffset+table0.Place[0] : layout0.RecvOffset+table0.Place[0]+table0.SizeBytes[0]])
	require.Equal(t, []row.Row{{Key: 0, Value: 111}}, got0)

	layout1, err := region.Plan(cfg, 1)
	require.NoError(t, err)
	table1, err := offsets.Resolve(matrix, 1, cfg.NumNodes, cfg.NumPartitions, layout1)
	require.NoError(t, err)
	got1 := row.DecodeAll(v1.Raw()[layout1.RecvOffset+table1.Place[0] : layout1.RecvOffset+table1.Place[0]+table1.SizeBytes[0]])
	require.Equal(t, []row.Row{{Key: 1, Value: 222}}, got1)
}

func TestSendFailsWithoutConnectionToDestination(t *testing.T) {
	cfg := &shuffleconfig.Config{
		NodeIPs:       []string{"node-0", "node-1"},
		NumNodes:      2,
		NumPartitions: 2,
		NumRowsLocal:  []uint64{1, 0},
		MemSize:       1 << 12,
	}
	broker := loopback.NewBroker()
	v0, _ := buildNode(t, cfg, 0, broker)
	_, _ = buildNode(t, cfg, 1, broker)

	copy(v0.Raw(), row.EncodeAll([]row.Row{{Key: 1, Value: 1}}))
	matrix := histogram.Matrix{{0, 1}, {0, 0}}
	staged := Stage(v0.InputRows(), cfg.NumPartitions, cfg.NumNodes)

	err := Send(context.Background(), cfg, matrix, v0, staged, map[uint32]transport.Conn{})
	require.Error(t, err)
}

func TestPartitionOwnershipMatchesDestinationOf(t *testing.T) {
	require.Equal(t, partition.DestinationOf(7, 4, 2), partition.OwnerOf(partition.PartOf(7, 4), 2))
}
