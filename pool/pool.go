// Package pool keeps a bounded set of ready connections to a single IProto
// node.
//
// A connection is created on demand by Acquire, handed out exclusively and
// returned with Release. Connections that reached a terminal state are
// destroyed on release or skipped on acquire, so the pool never hands out a
// dead connection.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/puddle/v2"

	"github.com/ice-blockchain/go-tarantool-client"
)

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrPoolExhausted = errors.New("pool is exhausted")
	ErrWrongMaxSize  = errors.New("wrong max size, must be greater than 0")
)

const defaultMaxSize = 4

// Opts provides additional options of a Pool.
type Opts struct {
	// MaxSize is the upper bound of open connections, 4 by default.
	MaxSize int32
	// Logger receives pool events, the connection logger is used by default.
	Logger tarantool.Logger
}

// Conn is a connection acquired from a Pool. It must be returned with
// Release once the caller is done with it.
type Conn struct {
	*tarantool.Connection
	res      *puddle.Resource[*tarantool.Connection]
	pool     *Pool
	released atomic.Bool
}

// Release returns the connection to its pool.
func (c *Conn) Release() {
	c.pool.Release(c)
}

// Stat is a snapshot of a pool.
type Stat struct {
	Addr         string
	MaxSize      int32
	Total        int32
	Idle         int32
	Acquired     int32
	AcquireCount int64
}

// Pool is a puddle-backed pool of connections to one address.
type Pool struct {
	addr     string
	connOpts tarantool.Opts
	opts     Opts
	pool     *puddle.Pool[*tarantool.Connection]
	state    state
	metrics  poolMetrics

	// ctx is canceled by Close and bounds every wait of Acquire.
	ctx    context.Context
	cancel context.CancelFunc

	open       atomic.Int32
	errMutex   sync.Mutex
	destroyErr error
}

// New creates a pool of connections to addr. No connection is opened until
// the first Acquire.
func New(addr string, connOpts tarantool.Opts, opts Opts) (*Pool, error) {
	if opts.MaxSize < 0 {
		return nil, ErrWrongMaxSize
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = defaultMaxSize
	}
	if opts.Logger == nil {
		opts.Logger = connOpts.Logger
	}
	if opts.Logger == nil {
		opts.Logger = tarantool.NewSlogLogger(nil)
	}

	p := &Pool{
		addr:     addr,
		connOpts: connOpts.Clone(),
		opts:     opts,
		metrics:  newPoolMetrics(addr),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	pool, err := puddle.NewPool(&puddle.Config[*tarantool.Connection]{
		Constructor: p.construct,
		Destructor:  p.destruct,
		MaxSize:     opts.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

func (p *Pool) construct(ctx context.Context) (*tarantool.Connection, error) {
	conn, err := tarantool.Connect(ctx, p.addr, p.connOpts)
	if err != nil {
		p.metrics.errors.Inc()
		return nil, err
	}
	p.metrics.created.Inc()
	p.report("added", int(p.open.Add(1)), 0)
	return conn, nil
}

func (p *Pool) destruct(conn *tarantool.Connection) {
	p.metrics.destroyed.Inc()
	if err := conn.Close(); err != nil {
		p.errMutex.Lock()
		p.destroyErr = multierror.Append(p.destroyErr, fmt.Errorf("%s: %w", conn.Id(), err))
		p.errMutex.Unlock()
	}
	p.report("removed", int(p.open.Add(-1)), 0)
}

func (p *Pool) report(event string, size, active int) {
	p.opts.Logger.Report(tarantool.NewConnectionPoolEvent(p.addr, event, size, active), nil)
}

func (p *Pool) reportStat(event string) {
	stat := p.pool.Stat()
	p.report(event, int(stat.TotalResources()), int(stat.AcquiredResources()))
}

func (p *Pool) wrap(res *puddle.Resource[*tarantool.Connection]) *Conn {
	p.metrics.acquired.Inc()
	return &Conn{Connection: res.Value(), res: res, pool: p}
}

// discard takes res out of puddle and closes the connection before
// returning, so the slot is free once discard is done.
func (p *Pool) discard(res *puddle.Resource[*tarantool.Connection]) {
	res.Hijack()
	p.destruct(res.Value())
}

// take turns an acquired resource into a Conn. It returns nil without an
// error if the connection was dead and got discarded.
func (p *Pool) take(res *puddle.Resource[*tarantool.Connection]) (*Conn, error) {
	if p.state.get() == closedState {
		p.discard(res)
		return nil, ErrPoolClosed
	}
	if res.Value().ClosedNow() {
		p.discard(res)
		return nil, nil
	}
	return p.wrap(res), nil
}

// waitCtx derives a context that is done when ctx is done or the pool is
// closed.
func (p *Pool) waitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *Pool) mapErr(err error) error {
	if errors.Is(err, puddle.ErrClosedPool) || p.ctx.Err() != nil {
		return ErrPoolClosed
	}
	return err
}

// Addr returns the address the pool connects to.
func (p *Pool) Addr() string {
	return p.addr
}

// Acquire returns a ready connection. It opens a new connection if the pool
// has room, otherwise it waits until a connection is released, ctx is done
// or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.state.get() == closedState {
		return nil, ErrPoolClosed
	}
	ctx, cancel := p.waitCtx(ctx)
	defer cancel()

	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, p.mapErr(err)
		}
		conn, err := p.take(res)
		if conn != nil || err != nil {
			return conn, err
		}
	}
}

// AcquireTimeout returns a ready connection waiting at most timeout for a
// busy connection. With a non-positive timeout it never waits for a busy
// connection: an idle connection is returned or a new one is opened, and
// ErrPoolExhausted is returned if the pool is full.
func (p *Pool) AcquireTimeout(timeout time.Duration) (*Conn, error) {
	if p.state.get() == closedState {
		return nil, ErrPoolClosed
	}
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		conn, err := p.Acquire(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, p.exhausted()
		}
		return conn, err
	}

	for {
		stat := p.pool.Stat()
		var res *puddle.Resource[*tarantool.Connection]
		var err error
		if stat.IdleResources() == 0 && stat.TotalResources() < stat.MaxResources() {
			res, err = p.pool.Acquire(p.ctx)
		} else {
			res, err = p.pool.TryAcquire(p.ctx)
		}
		if errors.Is(err, puddle.ErrNotAvailable) {
			return nil, p.exhausted()
		}
		if err != nil {
			return nil, p.mapErr(err)
		}
		conn, err := p.take(res)
		if conn != nil || err != nil {
			return conn, err
		}
	}
}

func (p *Pool) exhausted() error {
	p.metrics.exhausted.Inc()
	p.reportStat("full")
	return ErrPoolExhausted
}

// Release returns conn to the pool. A connection in a terminal state, or
// released after the pool was closed, is closed and frees its slot before
// Release returns. Releasing a connection twice is a no-op.
func (p *Pool) Release(conn *Conn) {
	if conn == nil || !conn.released.CompareAndSwap(false, true) {
		return
	}
	if conn.ClosedNow() || p.state.get() == closedState {
		p.discard(conn.res)
		return
	}
	conn.res.Release()
}

// Do acquires a connection, executes req and releases the connection once
// the response is received.
func (p *Pool) Do(ctx context.Context, req tarantool.Request) (*tarantool.Response, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return conn.Do(req).GetResponse()
}

// Stat returns a snapshot of the pool.
func (p *Pool) Stat() Stat {
	s := p.pool.Stat()
	return Stat{
		Addr:         p.addr,
		MaxSize:      s.MaxResources(),
		Total:        s.TotalResources(),
		Idle:         s.IdleResources(),
		Acquired:     s.AcquiredResources(),
		AcquireCount: s.AcquireCount(),
	}
}

// Close closes the pool. Waiting acquires fail with ErrPoolClosed and idle
// connections are closed before Close returns. Acquired connections are
// closed when they are released. Errors of closing connections are
// aggregated. Calling Close again returns nil.
func (p *Pool) Close() error {
	if !p.state.cas(connectedState, closedState) {
		return nil
	}
	p.cancel()
	for _, res := range p.pool.AcquireAllIdle() {
		p.discard(res)
	}
	// puddle waits for acquired resources, they are discarded by Release.
	go p.pool.Close()
	p.report("closed", int(p.open.Load()), 0)

	p.errMutex.Lock()
	defer p.errMutex.Unlock()
	return p.destroyErr
}
