// Package shuffle implements C7 from spec.md: the driver that orchestrates
// the shuffle's phases (connect → barrier → histogram → barrier → offsets
// → data → barrier → finalise) and returns the view of the local result.
//
// # State machine
//
//	INIT → CONNECTED → HIST_POSTED → HIST_READY → PLACED → DATA_POSTED → DATA_READY → DONE
//	                         ↑barrier                            ↑barrier       ↑barrier
//
// Terminal states are DONE (success) and FAILED (any propagated error).
// Every transition is driven exclusively by completion of the prior phase
// and, where marked, the barrier between phases. The driver owns every
// connection handle it opens and releases all of them on any terminal
// transition, success or failure alike.
package shuffle

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/rdmashuffle/internal/barrier"
	"github.com/dreamware/rdmashuffle/internal/exchange"
	"github.com/dreamware/rdmashuffle/internal/histogram"
	"github.com/dreamware/rdmashuffle/internal/offsets"
	"github.com/dreamware/rdmashuffle/internal/region"
	"github.com/dreamware/rdmashuffle/internal/row"
	"github.com/dreamware/rdmashuffle/internal/shuffleconfig"
	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
	"github.com/dreamware/rdmashuffle/internal/transport"
)

// State names the driver's position in the phase state machine.
type State string

const (
	StateInit       State = "INIT"
	StateConnected  State = "CONNECTED"
	StateHistPosted State = "HIST_POSTED"
	StateHistReady  State = "HIST_READY"
	StatePlaced     State = "PLACED"
	StateDataPosted State = "DATA_POSTED"
	StateDataReady  State = "DATA_READY"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Barrier phase numbers, in the order the driver passes them. Each must be
// strictly increasing and global across the whole run, per spec.md §4.6.
const (
	phaseConnect   uint64 = 1 // rendezvous after every node has connected to every peer
	phaseHistogram uint64 = 2 // spec.md §4.3 Step D: histogram matrix complete
	phaseData      uint64 = 3 // spec.md §4.5 Completion: "the final barrier"
)

// Result is the local result returned by Run: the rows this node owns
// after the shuffle, decoded from the valid prefix of the receive region.
// Rows is a copy; it does not alias the node's MemoryRegion.
type Result struct {
	Rows  []row.Row
	Table offsets.Table
}

type options struct {
	log              *zap.SugaredLogger
	barrierOptions   []barrier.Option
	histogramWorkers int
}

// Option configures a Driver.
type Option func(*options)

// WithLogger attaches a structured logger used for every phase transition.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithBarrierOptions forwards options (e.g. barrier.WithCeiling) to every
// barrier.Barrier the driver constructs.
func WithBarrierOptions(opts ...barrier.Option) Option {
	return func(o *options) { o.barrierOptions = opts }
}

// WithHistogramWorkers splits the local histogram scan (spec.md §4.3 Step
// A) across n goroutines operating on disjoint input slices, reducing
// their partial counts associatively before anything is published (spec.md
// §5). n <= 1 (the default) keeps the scan single-threaded.
func WithHistogramWorkers(n int) Option {
	return func(o *options) { o.histogramWorkers = n }
}

// Driver runs one shuffle to completion over cfg using fabric as the RDMA
// collaborator.
type Driver struct {
	cfg    *shuffleconfig.Config
	fabric transport.Fabric
	opts   options
	state  State
}

// New builds a Driver. fabric must not yet have RegisterMemory called;
// Run calls it with the buffer it's given.
func New(cfg *shuffleconfig.Config, fabric transport.Fabric, opts ...Option) *Driver {
	o := options{log: zap.NewNop().Sugar()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Driver{cfg: cfg, fabric: fabric, opts: o, state: StateInit}
}

// State returns the driver's current phase.
func (d *Driver) State() State { return d.state }

// Run drives one shuffle to completion over buf, which must have length
// cfg.MemSize and have its first cfg.MyNumRows()*row.Size bytes already
// populated with this node's input tuples — exactly the contract spec.md
// §6 describes for the core's single entry point.
func (d *Driver) Run(ctx context.Context, buf []byte) (Result, error) {
	log := d.opts.log.With("node", d.cfg.MyID)

	layout, err := region.Plan(d.cfg, d.cfg.MyID)
	if err != nil {
		d.state = StateFailed
		return Result{}, err
	}

	view, err := region.NewView(buf, layout)
	if err != nil {
		d.state = StateFailed
		return Result{}, shuffleerr.New(shuffleerr.Config, d.cfg.MyID, err)
	}

	if err := d.fabric.RegisterMemory(buf); err != nil {
		d.state = StateFailed
		return Result{}, shuffleerr.New(shuffleerr.Connect, d.cfg.MyID, err)
	}

	conns, err := d.connectAll(ctx)
	if err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	defer d.closeAll(conns, log)
	d.state = StateConnected
	log.Infow("connected to all peers", "phase", d.state)

	// The barrier counter always lives in node 0's region (self-loop for
	// node 0 itself), never this node's own layout: NumRowsLocal can differ
	// per node, so node 0's BarrierOffset is not generally equal to ours.
	const barrierCoordinator = 0
	coordLayout, err := region.Plan(d.cfg, barrierCoordinator)
	if err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	b := barrier.New(conns[barrierCoordinator], d.cfg.MyID, d.cfg.NumNodes, coordLayout.BarrierOffset, d.opts.barrierOptions...)

	if err := b.Wait(ctx, phaseConnect); err != nil {
		d.state = StateFailed
		return Result{}, err
	}

	if err := d.runHistogram(ctx, view, conns, log); err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	d.state = StateHistPosted

	if err := b.Wait(ctx, phaseHistogram); err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	d.state = StateHistReady

	matrix := histogram.ReadMatrix(view, d.cfg.NumNodes, d.cfg.NumPartitions)

	table, err := offsets.Resolve(matrix, d.cfg.MyID, d.cfg.NumNodes, d.cfg.NumPartitions, layout)
	if err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	d.state = StatePlaced
	log.Infow("resolved receive layout", "phase", d.state, "total_recv_rows", table.TotalRows)

	staged := exchange.Stage(view.InputRows(), d.cfg.NumPartitions, d.cfg.NumNodes)
	if err := exchange.Send(ctx, d.cfg, matrix, view, staged, conns); err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	d.state = StateDataPosted

	if err := b.Wait(ctx, phaseData); err != nil {
		d.state = StateFailed
		return Result{}, err
	}
	d.state = StateDataReady

	d.state = StateDone
	log.Infow("shuffle complete", "phase", d.state, "rows", table.TotalRows)

	return Result{Rows: view.ReceiveRows(table.TotalRows), Table: table}, nil
}

// connectAll opens a connection to every node in the cluster, including
// this node itself (a self-loop), so the barrier and data-exchange phases
// never need to special-case node 0 or the local node: every component
// always has a transport.Conn to address, even when the destination is
// itself. Connections are opened concurrently; any single failure fails
// the whole phase before any histogram or data traffic is issued, and the
// connections already opened are closed.
func (d *Driver) connectAll(ctx context.Context) (map[uint32]transport.Conn, error) {
	conns := make(map[uint32]transport.Conn, d.cfg.NumNodes)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for n := uint32(0); n < d.cfg.NumNodes; n++ {
		n := n
		g.Go(func() error {
			conn, err := d.fabric.Connect(ctx, d.cfg.IP(n))
			if err != nil {
				return shuffleerr.New(shuffleerr.Connect, d.cfg.MyID, fmt.Errorf("connect to node %d: %w", n, err))
			}
			mu.Lock()
			conns[n] = conn
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			_ = conn.Close()
		}
		return nil, err
	}
	return conns, nil
}

func (d *Driver) runHistogram(ctx context.Context, view *region.View, conns map[uint32]transport.Conn, log *zap.SugaredLogger) error {
	keys := make([]uint64, 0, len(view.InputRows()))
	for _, r := range view.InputRows() {
		keys = append(keys, r.Key)
	}
	local := histogram.LocalConcurrent(keys, d.cfg.NumPartitions, d.opts.histogramWorkers)

	peers := make(map[uint32]transport.Conn, d.cfg.NumNodes-1)
	for n, conn := range conns {
		if n != d.cfg.MyID {
			peers[n] = conn
		}
	}

	log.Infow("publishing histogram", "phase", StateHistPosted, "rows", len(keys))
	return histogram.Publish(ctx, d.cfg, view, local, peers)
}

// closeAll releases every connection the driver opened, aggregating any
// close errors instead of discarding all but the last one.
func (d *Driver) closeAll(conns map[uint32]transport.Conn, log *zap.SugaredLogger) {
	var merr *multierror.Error
	for n, conn := range conns {
		if err := conn.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close connection to node %d: %w", n, err))
		}
	}
	if merr != nil {
		log.Warnw("errors closing connections", "error", merr.ErrorOrNil())
	}
}
