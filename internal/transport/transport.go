// Package transport defines the abstract RDMA verb set the shuffle core
// consumes (spec.md §6). The core never depends on a concrete RDMA
// library; it depends on this interface. spec.md places the real
// transport — queue-pair management, completion polling, connection
// establishment — out of scope, "specified only by the contract the core
// consumes". This package is that contract.
package transport

import "context"

// Conn is a one-sided connection to a single remote node's registered
// MemoryRegion. All operations address the peer's region by absolute byte
// offset and return once the operation's local completion is observed;
// none of them involve the remote CPU.
type Conn interface {
	// Write issues a one-sided RDMA write of src into the peer's region
	// at remoteOffset. Returns once the write's local completion signal
	// has been observed.
	Write(ctx context.Context, src []byte, remoteOffset uint64) error

	// Read issues a one-sided RDMA read of len(dst) bytes from the
	// peer's region at remoteOffset into dst.
	Read(ctx context.Context, dst []byte, remoteOffset uint64) error

	// FetchAdd atomically adds delta to the 8-byte u64 at remoteOffset on
	// the peer's region and returns the pre-addition value.
	FetchAdd(ctx context.Context, delta uint64, remoteOffset uint64) (uint64, error)

	// Close releases the connection's resources.
	Close() error
}

// Fabric is the per-process handle to the RDMA device: it registers the
// local MemoryRegion and opens Conns to peers.
type Fabric interface {
	// RegisterMemory registers buf for remote access. Must be called
	// once, before any Connect, with the same buffer the driver reads
	// and writes throughout the shuffle.
	RegisterMemory(buf []byte) error

	// Connect establishes a queue-pair with peer addr, retrying
	// transient failures up to its own deadline. Returns ConnectError
	// (via the caller) on exhaustion.
	Connect(ctx context.Context, addr string) (Conn, error)

	// Close releases fabric-wide resources (e.g. the listening socket).
	Close() error
}
