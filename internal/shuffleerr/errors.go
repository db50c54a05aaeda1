// Package shuffleerr centralizes the shuffle's error taxonomy (spec.md §7)
// into a single sum-type-like error so the driver always surfaces one of a
// closed set of categories instead of letting arbitrary errors leak from
// whichever phase failed.
package shuffleerr

import (
	"errors"
	"fmt"
)

// Category is the closed set of ways a shuffle can fail.
type Category string

const (
	// Config covers invalid arguments, an undersized mem_size for the
	// computed layout, or num_rows_local*row_size exceeding the input
	// region. Raised pre-flight, before any transport traffic.
	Config Category = "config"

	// Connect covers the transport refusing or timing out the initial
	// connect handshake after its retry budget.
	Connect Category = "connect"

	// Transport covers a write/read/fetch_add reporting a non-transient
	// failure mid-protocol.
	Transport Category = "transport"

	// BarrierTimeout covers a barrier poll loop exceeding its wall-clock
	// ceiling.
	BarrierTimeout Category = "barrier_timeout"

	// Overflow covers a computed total_recv exceeding the receive
	// region's capacity, detected at offset resolution.
	Overflow Category = "overflow"

	// Cancelled covers the driver observing its cancellation token at a
	// suspension point.
	Cancelled Category = "cancelled"
)

// Error is the shuffle's sole error type. The driver never returns a bare
// error from a phase; every exit path wraps it in an Error so callers can
// dispatch on Category with errors.As.
type Error struct {
	Category Category
	Node     uint32 // originating node id, 0 if not applicable
	Err      error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rdmashuffle: %s (node %d)", e.Category, e.Node)
	}
	return fmt.Sprintf("rdmashuffle: %s (node %d): %v", e.Category, e.Node, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error for category with the given originating node and
// underlying cause. cause may be nil.
func New(category Category, node uint32, cause error) *Error {
	return &Error{Category: category, Node: node, Err: cause}
}

// Is reports whether err is a shuffleerr.Error of the given category.
func Is(err error, category Category) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Category == category
	}
	return false
}

// ExitCode maps an error (possibly nil) to the process exit codes named in
// spec.md §6: success, configuration error, transport error, barrier
// timeout. Connect and Overflow are folded into the transport/config
// buckets they most resemble for the purposes of a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *Error
	if !errors.As(err, &se) {
		return 1
	}
	switch se.Category {
	case Config, Overflow:
		return 2
	case Connect, Transport:
		return 3
	case BarrierTimeout:
		return 4
	case Cancelled:
		return 5
	default:
		return 1
	}
}
