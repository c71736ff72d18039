package chroma

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/errors"
)

type fakeConn struct {
	id   int64
	dead atomic.Bool
}

func (f *fakeConn) Heartbeat(ctx context.Context) error {
	if f.dead.Load() {
		return stderrors.New("connection dead")
	}
	return nil
}

func newFakeFactory() (Factory[*fakeConn], *atomic.Int64) {
	var created atomic.Int64
	factory := func(ctx context.Context) (*fakeConn, error) {
		return &fakeConn{id: created.Add(1)}, nil
	}
	return factory, &created
}

func TestPool_PrewarmsMinConnections(t *testing.T) {
	factory, created := newFakeFactory()

	pool := NewPool(PoolConfig{MinConnections: 2, MaxConnections: 4}, factory, nil)
	defer pool.Close()

	stats := pool.Stats()
	assert.Equal(t, int64(2), created.Load())
	assert.Equal(t, 2, stats.State.TotalConnections)
	assert.Equal(t, 2, stats.State.AvailableConnections)
	assert.Zero(t, stats.State.ActiveConnections)
}

func TestPool_GetReusesIdleConnection(t *testing.T) {
	factory, created := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: time.Second}, factory, nil)
	defer pool.Close()

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	pool.Put(conn)

	again, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer pool.Put(again)

	assert.Same(t, conn, again)
	assert.Equal(t, int64(1), created.Load())
}

func TestPool_ReplacesDeadConnectionInSameCall(t *testing.T) {
	factory, created := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: time.Second}, factory, nil)
	defer pool.Close()

	first, err := pool.Get(context.Background())
	require.NoError(t, err)
	pool.Put(first)
	first.dead.Store(true)

	replacement, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer pool.Put(replacement)

	assert.NotSame(t, first, replacement, "dead handles must never be handed out")
	assert.Equal(t, int64(2), created.Load())
	assert.Equal(t, 1, pool.Stats().State.TotalConnections)
}

func TestPool_ExhaustionReportsResourceExhausted(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: 150 * time.Millisecond}, factory, nil)
	defer pool.Close()

	a, err := pool.Get(context.Background())
	require.NoError(t, err)
	b, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer pool.Put(a)
	defer pool.Put(b)

	_, err = pool.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindResourceExhausted, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestPool_WaiterGetsReturnedConnection(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 1, BorrowTimeout: 2 * time.Second}, factory, nil)
	defer pool.Close()

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)

	done := make(chan *fakeConn, 1)
	go func() {
		waited, err := pool.Get(context.Background())
		if err != nil {
			close(done)
			return
		}
		done <- waited
	}()

	time.Sleep(50 * time.Millisecond)
	pool.Put(conn)

	select {
	case waited, ok := <-done:
		require.True(t, ok, "waiter must receive the returned connection")
		pool.Put(waited)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestPool_PutDiscardsDeadConnection(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: time.Second}, factory, nil)
	defer pool.Close()

	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	conn.dead.Store(true)
	pool.Put(conn)

	stats := pool.Stats()
	assert.Zero(t, stats.State.TotalConnections)
	assert.Zero(t, stats.State.AvailableConnections)
}

func TestPool_WithClient(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: time.Second}, factory, nil)
	defer pool.Close()

	var seen *fakeConn
	err := pool.WithClient(context.Background(), func(c *fakeConn) error {
		seen = c
		assert.Equal(t, 1, pool.Stats().State.ActiveConnections)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)

	assert.Zero(t, pool.Stats().State.ActiveConnections)
}

func TestPool_Health(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2}, factory, nil)
	defer pool.Close()

	health := pool.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Error)
	assert.Equal(t, 1, health.TotalConnections)
	assert.Zero(t, health.ActiveConnections)
}

func TestPool_BoundHoldsUnderChurn(t *testing.T) {
	factory, _ := newFakeFactory()
	cfg := PoolConfig{MinConnections: 2, MaxConnections: 4, BorrowTimeout: 2 * time.Second}
	pool := NewPool(cfg, factory, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.WithClient(context.Background(), func(c *fakeConn) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	assert.Zero(t, stats.State.ActiveConnections)
	assert.LessOrEqual(t, stats.State.TotalConnections, cfg.MaxConnections)
	assert.LessOrEqual(t, stats.State.AvailableConnections, cfg.MaxConnections)
	assert.LessOrEqual(t, stats.Counters.PeakActive, cfg.MaxConnections)
	assert.Equal(t, stats.Counters.TotalBorrowed, stats.Counters.TotalReturned)
}

func TestPool_CloseStopsBorrows(t *testing.T) {
	factory, _ := newFakeFactory()
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 2, BorrowTimeout: 100 * time.Millisecond}, factory, nil)

	pool.Close()

	_, err := pool.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))
	assert.Zero(t, pool.Stats().State.TotalConnections)
}

func TestPool_FactoryFailureFallsBackToWait(t *testing.T) {
	var calls atomic.Int64
	flaky := func(ctx context.Context) (*fakeConn, error) {
		if calls.Add(1) > 1 {
			return nil, stderrors.New("dial refused")
		}
		return &fakeConn{id: calls.Load()}, nil
	}
	pool := NewPool(PoolConfig{MinConnections: 1, MaxConnections: 4, BorrowTimeout: time.Second}, flaky, nil)
	defer pool.Close()

	// The single prewarmed connection is busy; creation fails, so the
	// borrow succeeds only once the connection is returned.
	conn, err := pool.Get(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		pool.Put(conn)
	}()

	waited, err := pool.Get(context.Background())
	require.NoError(t, err)
	pool.Put(waited)

	assert.Same(t, conn, waited)
	assert.GreaterOrEqual(t, pool.Stats().Counters.TotalErrors, int64(1))
}
