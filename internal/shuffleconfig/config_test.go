package shuffleconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
)

const validYAML = `
node_ips:
  - "10.0.0.1:9000"
  - "10.0.0.2:9000"
  - "10.0.0.3:9000"
rdma_port: 9000
my_id: 0
num_nodes: 3
num_partitions: 6
num_rows: [1000, 1200, 900]
mem_size: 1048576
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTemp(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(3), cfg.NumNodes)
	require.Equal(t, uint32(6), cfg.NumPartitions)
	require.Equal(t, []uint64{1000, 1200, 900}, cfg.NumRowsLocal)
	require.Equal(t, uint64(1000), cfg.MyNumRows())
	require.Equal(t, "10.0.0.2:9000", cfg.IP(1))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	require.True(t, shuffleerr.Is(err, shuffleerr.Config))
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTemp(t, "not: valid: yaml: [")
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, shuffleerr.Is(err, shuffleerr.Config))
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			NodeIPs:       []string{"a", "b"},
			MyID:          0,
			NumNodes:      2,
			NumPartitions: 4,
			NumRowsLocal:  []uint64{10, 10},
			MemSize:       1024,
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		require.NoError(t, cfg.Validate())
	})

	t.Run("zero nodes", func(t *testing.T) {
		cfg := base()
		cfg.NumNodes = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("my_id out of range", func(t *testing.T) {
		cfg := base()
		cfg.MyID = 5
		require.Error(t, cfg.Validate())
	})

	t.Run("partitions fewer than nodes", func(t *testing.T) {
		cfg := base()
		cfg.NumPartitions = 1
		require.Error(t, cfg.Validate())
	})

	t.Run("node_ips length mismatch", func(t *testing.T) {
		cfg := base()
		cfg.NodeIPs = []string{"only-one"}
		require.Error(t, cfg.Validate())
	})

	t.Run("num_rows length mismatch", func(t *testing.T) {
		cfg := base()
		cfg.NumRowsLocal = []uint64{10}
		require.Error(t, cfg.Validate())
	})

	t.Run("zero mem_size", func(t *testing.T) {
		cfg := base()
		cfg.MemSize = 0
		require.Error(t, cfg.Validate())
	})
}

func TestConfigDelegatesToPartition(t *testing.T) {
	cfg := Config{NumPartitions: 5, NumNodes: 3}
	require.Equal(t, uint32(4), cfg.PartOf(9))
	require.Equal(t, uint32(1), cfg.OwnerOf(4))
	require.Equal(t, uint32(1), cfg.DestinationOf(9))
}
