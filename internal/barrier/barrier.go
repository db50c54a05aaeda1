// Package barrier implements C6 from spec.md: the distributed phase
// barrier built from RDMA atomic fetch-and-add plus polling of a counter
// on a coordinator node (node 0).
//
// One Wait call is one barrier invocation: every node, including node 0,
// increments the shared counter by issuing a FetchAdd against node 0's
// region, then polls that same counter (via small reads, with cooperative
// back-off) until it observes a value >= phase*N. No reset is needed: the
// monotonically increasing phase*N threshold distinguishes successive
// barriers, exactly as spec.md §4.6 describes.
package barrier

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
	"github.com/dreamware/rdmashuffle/internal/transport"
)

// DefaultCeiling is the default wall-clock ceiling for a single barrier
// invocation before it raises BarrierTimeout. Tunable via WithCeiling.
const DefaultCeiling = 30 * time.Second

// DefaultPollInterval is the steady-state back-off interval between
// counter reads once the exponential ramp-up saturates.
const DefaultPollInterval = 20 * time.Millisecond

type options struct {
	ceiling      time.Duration
	pollInterval time.Duration
	log          *zap.SugaredLogger
}

// Option configures a Barrier.
type Option func(*options)

// WithCeiling overrides the wall-clock ceiling per barrier invocation.
func WithCeiling(d time.Duration) Option {
	return func(o *options) { o.ceiling = d }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// Barrier synchronizes all N nodes of the cluster through node 0's
// barrier-counter slot.
type Barrier struct {
	coord    transport.Conn // connection to node 0's region (self-loop for node 0)
	numNodes uint32
	myID     uint32
	offset   uint64
	opts     options
}

// New builds a Barrier that increments and polls the 8-byte counter at
// offset on coord, which must be a connection (possibly a self-connection)
// to node 0's MemoryRegion.
func New(coord transport.Conn, myID, numNodes uint32, offset uint64, opts ...Option) *Barrier {
	o := options{
		ceiling:      DefaultCeiling,
		pollInterval: DefaultPollInterval,
		log:          zap.NewNop().Sugar(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Barrier{coord: coord, numNodes: numNodes, myID: myID, offset: offset, opts: o}
}

// Wait executes the phase-th barrier invocation: increment, then poll
// until the counter reaches phase*N or the ceiling elapses.
func (b *Barrier) Wait(ctx context.Context, phase uint64) error {
	threshold := phase * uint64(b.numNodes)

	if _, err := b.coord.FetchAdd(ctx, 1, b.offset); err != nil {
		return shuffleerr.New(shuffleerr.Transport, b.myID, fmt.Errorf("barrier fetch_add phase %d: %w", phase, err))
	}

	deadline := time.Now().Add(b.opts.ceiling)
	var buf [8]byte
	var last uint64

	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     1 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         b.opts.pollInterval,
	})
	defer ticker.Stop()

	check := func() (bool, error) {
		if err := b.coord.Read(ctx, buf[:], b.offset); err != nil {
			return false, shuffleerr.New(shuffleerr.Transport, b.myID, fmt.Errorf("barrier read phase %d: %w", phase, err))
		}
		last = binary.LittleEndian.Uint64(buf[:])
		return last >= threshold, nil
	}

	if done, err := check(); err != nil {
		return err
	} else if done {
		b.opts.log.Debugw("barrier passed", "phase", phase, "node", b.myID)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return shuffleerr.New(shuffleerr.Cancelled, b.myID, ctx.Err())
		case <-ticker.C:
			done, err := check()
			if err != nil {
				return err
			}
			if done {
				b.opts.log.Debugw("barrier passed", "phase", phase, "node", b.myID)
				return nil
			}
			if time.Now().After(deadline) {
				return shuffleerr.New(shuffleerr.BarrierTimeout, b.myID,
					fmt.Errorf("phase %d: observed counter %d, want >= %d", phase, last, threshold))
			}
		}
	}
}
