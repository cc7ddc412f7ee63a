package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/pool"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

var connOpts = tarantool.Opts{
	Timeout:        5 * time.Second,
	ConnectTimeout: time.Second,
}

func newPool(t *testing.T, srv *test_helpers.Server, maxSize int32) *pool.Pool {
	t.Helper()

	p, err := pool.New(srv.Addr(), connOpts, pool.Opts{MaxSize: maxSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_WrongMaxSize(t *testing.T) {
	_, err := pool.New("127.0.0.1:3013", connOpts, pool.Opts{MaxSize: -1})
	assert.ErrorIs(t, err, pool.ErrWrongMaxSize)
}

func TestPool_ReusesReleasedConnection(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	id := conn.Id()
	conn.Release()
	conn.Release()

	conn, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, conn.Id())
	conn.Release()

	assert.Equal(t, int64(1), srv.Accepted())
	stat := p.Stat()
	assert.Equal(t, int32(1), stat.Total)
	assert.Equal(t, int32(1), stat.Idle)
	assert.Equal(t, int32(0), stat.Acquired)
}

func TestPool_AcquireTimeoutZeroDoesNotWait(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	held, err := p.AcquireTimeout(0)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.AcquireTimeout(0)
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	held.Release()
	conn, err := p.AcquireTimeout(0)
	require.NoError(t, err)
	assert.Equal(t, held.Id(), conn.Id())
	conn.Release()
}

func TestPool_AcquireTimeoutWaitsForRelease(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.AcquireTimeout(50 * time.Millisecond)
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)

	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()
	conn, err := p.AcquireTimeout(2 * time.Second)
	require.NoError(t, err)
	conn.Release()
}

func TestPool_ReleaseDestroysClosedConnection(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 2)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	id := conn.Id()
	require.NoError(t, conn.Close())
	conn.Release()

	assert.Equal(t, int32(0), p.Stat().Total)

	conn, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, id, conn.Id())
	assert.True(t, conn.ConnectedNow())
	conn.Release()
	assert.Equal(t, int64(2), srv.Accepted())
}

func TestPool_Do(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	resp, err := p.Do(context.Background(),
		tarantool.NewCallRequest("echo").Args([]interface{}{"hello"}))
	require.NoError(t, err)
	data, err := resp.Decode()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"hello"}, data)
	assert.Equal(t, int32(1), p.Stat().Idle)
}

func TestPool_ConnectError(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	srv.SetRefuse(true)
	p := newPool(t, srv, 1)

	_, err := p.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(0), p.Stat().Total)
}

func TestPool_Closed(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.True(t, conn.ClosedNow())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
	_, err = p.AcquireTimeout(0)
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestPool_ReleaseOfDeadConnectionFreesSlot(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	for i := 0; i < 20; i++ {
		conn, err := p.AcquireTimeout(0)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, conn.Close())
		conn.Release()

		stat := p.Stat()
		require.Equal(t, int32(0), stat.Total, "iteration %d", i)
		require.Equal(t, int32(0), stat.Acquired, "iteration %d", i)
	}
	assert.Equal(t, int64(20), srv.Accepted())
}

func TestPool_AcquireSkipsDroppedIdleConnection(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	id := conn.Id()
	conn.Release()

	srv.DropConnections()
	require.Eventually(t, conn.ClosedNow, time.Second, 10*time.Millisecond)

	conn, err = p.AcquireTimeout(0)
	require.NoError(t, err)
	assert.NotEqual(t, id, conn.Id())
	conn.Release()
}

func TestPool_CloseFailsWaitingAcquire(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		conn, err := p.Acquire(context.Background())
		if conn != nil {
			conn.Release()
		}
		acquired <- err
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case err := <-acquired:
		assert.ErrorIs(t, err, pool.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting acquire is not failed by Close")
	}
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close waits for an acquired connection")
	}

	assert.True(t, held.ConnectedNow())
	held.Release()
	assert.True(t, held.ClosedNow())
	assert.Equal(t, int32(0), p.Stat().Total)
}

func TestPool_CloseClosesIdleConnections(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	p := newPool(t, srv, 2)

	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle.Release()

	require.NoError(t, p.Close())
	assert.True(t, idle.ClosedNow())
	assert.False(t, held.ClosedNow())

	_, err = p.AcquireTimeout(time.Second)
	assert.ErrorIs(t, err, pool.ErrPoolClosed)

	held.Release()
	assert.True(t, held.ClosedNow())
}
