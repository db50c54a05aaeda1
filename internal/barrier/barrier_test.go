package barrier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/rdmashuffle/internal/shuffleerr"
	"github.com/dreamware/rdmashuffle/internal/transport"
	"github.com/dreamware/rdmashuffle/internal/transport/loopback"
)

// newCluster wires n simulated nodes against a shared loopback broker, each
// with its own connection to node 0 (the barrier coordinator), and returns
// the per-node connections plus the offset of the shared counter.
func newCluster(t *testing.T, n int) ([]transport.Conn, uint64) {
	t.Helper()
	broker := loopback.NewBroker()

	coordFabric := loopback.NewFabric(broker, "node-0")
	require.NoError(t, coordFabric.RegisterMemory(make([]byte, 64)))

	conns := make([]transport.Conn, n)
	for i := 0; i < n; i++ {
		f := loopback.NewFabric(broker, "caller")
		conn, err := f.Connect(context.Background(), "node-0")
		require.NoError(t, err)
		conns[i] = conn
	}
	return conns, 0
}

func TestBarrierReleasesAllWaitersAtThreshold(t *testing.T) {
	const n = 5
	conns, offset := newCluster(t, n)

	barriers := make([]*Barrier, n)
	for i := range barriers {
		barriers[i] = New(conns[i], uint32(i), n, offset, WithCeiling(2*time.Second))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = barriers[i].Wait(context.Background(), 1)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "node %d", i)
	}
}

func TestBarrierPhasesAreOrdered(t *testing.T) {
	const n = 3
	conns, offset := newCluster(t, n)

	b := New(conns[0], 0, n, offset, WithCeiling(time.Second))

	// Simulate the other n-1 nodes reaching phase 1 concurrently with node 0.
	var wg sync.WaitGroup
	for i := 1; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			peer := New(conns[i], uint32(i), n, offset, WithCeiling(time.Second))
			require.NoError(t, peer.Wait(context.Background(), 1))
		}()
	}
	require.NoError(t, b.Wait(context.Background(), 1))
	wg.Wait()

	// Phase 2 must wait for a fresh round of increments; immediately polling
	// with a short ceiling and no other waiters must time out.
	lonely := New(conns[0], 0, n, offset, WithCeiling(30*time.Millisecond))
	err := lonely.Wait(context.Background(), 2)
	require.Error(t, err)
	require.True(t, shuffleerr.Is(err, shuffleerr.BarrierTimeout))
}

func TestBarrierTimeout(t *testing.T) {
	conns, offset := newCluster(t, 2)
	b := New(conns[0], 0, 2, offset, WithCeiling(20*time.Millisecond))

	err := b.Wait(context.Background(), 1)
	require.Error(t, err)
	require.True(t, shuffleerr.Is(err, shuffleerr.BarrierTimeout))
}

func TestBarrierRespectsCancellation(t *testing.T) {
	conns, offset := newCluster(t, 2)
	b := New(conns[0], 0, 2, offset, WithCeiling(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx, 1)
	require.Error(t, err)
	require.True(t, shuffleerr.Is(err, shuffleerr.Cancelled))
}
