// Package shuffleconfig loads and validates the immutable cluster
// configuration every shuffle component is built from (spec.md §3
// ClusterConfig, §6 Configuration collaborator).
package shuffleconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/rdmashuffle/internal/partition"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
)

// Config is the immutable, cluster-wide configuration a shuffle runs
// against. It must be identical across all N nodes except MyID.
// NumRowsLocal holds every node's row count, indexed by node id, and is
// shared like the rest.
//
// Derived offsets (internal/region) and derived partition ownership
// (internal/partition) are pure functions of Config alone, which is what
// lets every node compute them independently and still agree (spec.md §3
// invariants).
type Config struct {
	// NodeIPs is the ordered list of peer endpoints; index is node id.
	NodeIPs []string `yaml:"node_ips"`

	// RDMAPort is the fabric port, identical for every node.
	RDMAPort uint16 `yaml:"rdma_port"`

	// MyID is this node's index in [0, NumNodes).
	MyID uint32 `yaml:"my_id"`

	// NumNodes is N, the size of the cluster.
	NumNodes uint32 `yaml:"num_nodes"`

	// NumPartitions is P, the number of logical partitions. P >= N is
	// required; P % N need not hold.
	NumPartitions uint32 `yaml:"num_partitions"`

	// NumRowsLocal is the number of input tuples on each node, indexed by
	// node id (length NumNodes). Every node needs every other node's row
	// count to compute that node's layout (internal/region) when
	// resolving remote write offsets, so this is part of the static,
	// cluster-wide configuration rather than a purely local value.
	NumRowsLocal []uint64 `yaml:"num_rows"`

	// MemSize is the length, in bytes, of the registered MemoryRegion.
	// Identical across the cluster.
	MemSize uint64 `yaml:"mem_size"`
}

// Load reads a YAML cluster config file from path and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shuffleerr.New(shuffleerr.Config, 0, fmt.Errorf("read config %s: %w", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, shuffleerr.New(shuffleerr.Config, 0, fmt.Errorf("parse config %s: %w", path, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants spec.md §3 and §6 require
// before any transport traffic is issued.
func (c *Config) Validate() error {
	if c.NumNodes == 0 {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("num_nodes must be > 0"))
	}
	if c.MyID >= c.NumNodes {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("my_id %d out of range [0, %d)", c.MyID, c.NumNodes))
	}
	if c.NumPartitions < c.NumNodes {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("num_partitions (%d) must be >= num_nodes (%d)", c.NumPartitions, c.NumNodes))
	}
	if uint32(len(c.NodeIPs)) != c.NumNodes {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("node_ips has %d entries, want %d", len(c.NodeIPs), c.NumNodes))
	}
	if uint32(len(c.NumRowsLocal)) != c.NumNodes {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("num_rows has %d entries, want %d", len(c.NumRowsLocal), c.NumNodes))
	}
	if c.MemSize == 0 {
		return shuffleerr.New(shuffleerr.Config, c.MyID, fmt.Errorf("mem_size must be > 0"))
	}
	return nil
}

// MyNumRows returns the input row count for this node (NumRowsLocal[MyID]).
func (c *Config) MyNumRows() uint64 {
	return c.NumRowsLocal[c.MyID]
}

// PartOf delegates to internal/partition (C1): part_of(key) = key mod P.
func (c *Config) PartOf(key uint64) uint32 {
	return partition.PartOf(key, c.NumPartitions)
}

// OwnerOf delegates to internal/partition (C1): owner_of(part) = part mod N.
func (c *Config) OwnerOf(part uint32) uint32 {
	return partition.OwnerOf(part, c.NumNodes)
}

// DestinationOf composes PartOf and OwnerOf: the node a row with this key
// must end up on.
func (c *Config) DestinationOf(key uint64) uint32 {
	return partition.DestinationOf(key, c.NumPartitions, c.NumNodes)
}

// IP returns the endpoint of the given node id.
func (c *Config) IP(nodeID uint32) string {
	return c.NodeIPs[nodeID]
}
