// Package loopback provides a single in-process reference implementation
// of the transport.Fabric/transport.Conn contract. Real RDMA hardware is
// out of scope for this repo (spec.md §1); this package plays the role of
// "the RDMA library" collaborator so internal/barrier, internal/histogram,
// internal/exchange and internal/shuffle can be exercised end-to-end,
// including the full multi-node integration tests, without real hardware.
//
// A Broker stands in for the fabric: every simulated node registers its
// MemoryRegion buffer with the Broker under its address, and every Conn
// operates directly on the peer's buffer under a mutex, giving the same
// one-sided-write / remote-fetch-add / polling-read semantics a real NIC
// would provide.
package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dreamware/rdmashuffle/internal/transport"
)

var (
	_ transport.Fabric = (*Fabric)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Broker is the shared registry every simulated node's Fabric registers
// against and connects through. One Broker corresponds to one fabric
// deployment; tests construct a single Broker shared by all simulated
// nodes.
type Broker struct {
	mu      sync.Mutex
	regions map[string]*region
}

type region struct {
	mu  sync.Mutex
	buf []byte
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{regions: make(map[string]*region)}
}

// Fabric is a per-node handle into a shared Broker.
type Fabric struct {
	broker *Broker
	addr   string
}

// NewFabric returns a Fabric for addr backed by broker. addr is the key
// nodes use to Connect to each other; it need not be a real network
// address since the Broker resolves it in-process.
func NewFabric(broker *Broker, addr string) *Fabric {
	return &Fabric{broker: broker, addr: addr}
}

// RegisterMemory registers buf as this node's MemoryRegion, making it
// reachable to peers calling Connect(ctx, f.addr).
func (f *Fabric) RegisterMemory(buf []byte) error {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	f.broker.regions[f.addr] = &region{buf: buf}
	return nil
}

// connectDeadline bounds how long Connect retries an unregistered peer
// before giving up, matching spec.md §6's "may retry on transient failure
// up to a small deadline" for connect().
const connectDeadline = 5 * time.Second

// Connect resolves addr against the broker, retrying with back-off until
// the peer has registered its memory or connectDeadline elapses.
func (f *Fabric) Connect(ctx context.Context, addr string) (transport.Conn, error) {
	lookup := func() (*region, bool) {
		f.broker.mu.Lock()
		defer f.broker.mu.Unlock()
		r, ok := f.broker.regions[addr]
		return r, ok
	}

	if r, ok := lookup(); ok {
		return &Conn{peer: r}, nil
	}

	deadline := time.Now().Add(connectDeadline)
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         200 * time.Millisecond,
	})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to %s: %w", addr, ctx.Err())
		case <-ticker.C:
			if r, ok := lookup(); ok {
				return &Conn{peer: r}, nil
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("connect to %s: timed out after %s", addr, connectDeadline)
			}
		}
	}
}

// Close releases no resources of its own; the Broker is shared by all
// fabrics and has nothing to close.
func (f *Fabric) Close() error { return nil }

// Conn is a one-sided connection to a peer's registered region.
type Conn struct {
	peer *region
}

// Write copies src into the peer's region at remoteOffset.
func (c *Conn) Write(_ context.Context, src []byte, remoteOffset uint64) error {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()

	end := remoteOffset + uint64(len(src))
	if end > uint64(len(c.peer.buf)) {
		return fmt.Errorf("write out of bounds: offset %d len %d region %d", remoteOffset, len(src), len(c.peer.buf))
	}
	copy(c.peer.buf[remoteOffset:end], src)
	return nil
}

// Read copies len(dst) bytes from the peer's region at remoteOffset into
// dst.
func (c *Conn) Read(_ context.Context, dst []byte, remoteOffset uint64) error {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()

	end := remoteOffset + uint64(len(dst))
	if end > uint64(len(c.peer.buf)) {
		return fmt.Errorf("read out of bounds: offset %d len %d region %d", remoteOffset, len(dst), len(c.peer.buf))
	}
	copy(dst, c.peer.buf[remoteOffset:end])
	return nil
}

// FetchAdd atomically adds delta to the little-endian u64 at remoteOffset
// and returns the value observed before the addition.
func (c *Conn) FetchAdd(_ context.Context, delta uint64, remoteOffset uint64) (uint64, error) {
	c.peer.mu.Lock()
	defer c.peer.mu.Unlock()

	if remoteOffset+8 > uint64(len(c.peer.buf)) {
		return 0, fmt.Errorf("fetch_add out of bounds: offset %d region %d", remoteOffset, len(c.peer.buf))
	}
	slot := c.peer.buf[remoteOffset : remoteOffset+8]
	old := binary.LittleEndian.Uint64(slot)
	binary.LittleEndian.PutUint64(slot, old+delta)
	return old, nil
}

// Close is a no-op: the loopback connection holds no resources beyond the
// shared region reference.
func (c *Conn) Close() error { return nil }
