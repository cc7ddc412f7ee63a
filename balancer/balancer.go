// Package balancer spreads requests over several IProto nodes.
//
// Every node gets its own pool.Pool. Pick walks the members round-robin:
// available members and unavailable members whose retry interval elapsed
// are tried first, the rest of unavailable members are tried last. A member
// becomes unavailable when a connection to it can not be opened and becomes
// available again after the first successful acquire.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/zeebo/xxh3"

	"github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/pool"
)

var (
	ErrNoAvailableClients = errors.New("no available clients")
	ErrEmptyNodes         = errors.New("nodes should not be empty")
	ErrDuplicateNode      = errors.New("duplicate node")
	ErrClosed             = errors.New("balancer is closed")
)

const defaultRetryInterval = time.Second

// Opts provides options of a Balancer.
type Opts struct {
	// ConnOpts are used for every connection, Node credentials override
	// User and Pass.
	ConnOpts tarantool.Opts
	// PoolOpts are used for the pool of every member.
	PoolOpts pool.Opts
	// AcquireTimeout bounds waiting for a busy connection of a member.
	// Zero means a member with all connections busy is skipped at once.
	AcquireTimeout time.Duration
	// RetryInterval is the time an unavailable member waits before it is
	// probed together with available members, 1 second by default.
	RetryInterval time.Duration
	// Logger receives member events, the connection logger by default.
	Logger tarantool.Logger
}

// Balancer picks connections from a fixed set of members.
type Balancer struct {
	members []*member
	opts    Opts
	cursor  atomic.Uint64
	closed  atomic.Bool
}

// New creates a balancer over the nodes returned by provider. Connections
// are opened lazily by Pick.
func New(ctx context.Context, provider Provider, opts Opts) (*Balancer, error) {
	nodes, err := provider.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyNodes
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = opts.ConnOpts.Logger
	}
	if opts.Logger == nil {
		opts.Logger = tarantool.NewSlogLogger(nil)
	}
	if opts.PoolOpts.Logger == nil {
		opts.PoolOpts.Logger = opts.Logger
	}

	b := &Balancer{opts: opts}
	names := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		m := &member{node: node}
		if names[m.name()] {
			_ = b.closePools()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, m.name())
		}
		names[m.name()] = true

		connOpts := opts.ConnOpts.Clone()
		if node.User != "" {
			connOpts.User = node.User
			connOpts.Pass = node.Password
		}
		if m.pool, err = pool.New(node.Addr, connOpts, opts.PoolOpts); err != nil {
			_ = b.closePools()
			return nil, fmt.Errorf("failed to create pool for %s: %w", m.name(), err)
		}
		b.members = append(b.members, m)
	}
	return b, nil
}

// Pick returns a connection of the next member in round-robin order. The
// connection must be released with Release.
func (b *Balancer) Pick(ctx context.Context) (*pool.Conn, error) {
	start := int((b.cursor.Add(1) - 1) % uint64(len(b.members)))
	return b.pick(ctx, start)
}

// PickKey is like Pick, but the walk starts from the member the key is
// hashed to, so the same key is served by the same member while it is
// available.
func (b *Balancer) PickKey(ctx context.Context, key string) (*pool.Conn, error) {
	return b.pick(ctx, jumpHash(xxh3.HashString(key), len(b.members)))
}

func (b *Balancer) pick(ctx context.Context, start int) (*pool.Conn, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	picksTotal.Inc()

	var errs *multierror.Error
	var deferred []*member
	now := time.Now()
	for i := range b.members {
		m := b.members[(start+i)%len(b.members)]
		if m.get() == Unavailable && !m.due(now, b.opts.RetryInterval) {
			deferred = append(deferred, m)
			continue
		}
		conn, err := b.acquire(ctx, m)
		if err == nil {
			return conn, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.name(), err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	for _, m := range deferred {
		conn, err := b.acquire(ctx, m)
		if err == nil {
			return conn, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.name(), err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	pickErrorsTotal.Inc()
	b.opts.Logger.Report(tarantool.NewNoAvailableClientsEvent(len(b.members), errs.ErrorOrNil()), nil)
	return nil, ErrNoAvailableClients
}

func (b *Balancer) acquire(ctx context.Context, m *member) (*pool.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conn *pool.Conn
	var err error
	if b.opts.AcquireTimeout > 0 {
		actx, cancel := context.WithTimeout(ctx, b.opts.AcquireTimeout)
		conn, err = m.pool.Acquire(actx)
		if err != nil && actx.Err() != nil && ctx.Err() == nil {
			err = pool.ErrPoolExhausted
		}
		cancel()
	} else {
		conn, err = m.pool.AcquireTimeout(0)
	}

	switch {
	case err == nil:
		b.up(m)
		return conn, nil
	case errors.Is(err, pool.ErrPoolExhausted):
		exhaustedTotal.Inc()
	case ctx.Err() == nil:
		b.down(m, err)
	}
	return nil, err
}

func (b *Balancer) up(m *member) {
	if m.markAvailable() {
		memberCounter("up", m.name()).Inc()
		b.opts.Logger.Report(tarantool.NewMemberStatusEvent(m.name(), m.node.Addr,
			Available.String(), nil), nil)
	}
}

func (b *Balancer) down(m *member, err error) {
	if m.markUnavailable(err) {
		memberCounter("down", m.name()).Inc()
		b.opts.Logger.Report(tarantool.NewMemberStatusEvent(m.name(), m.node.Addr,
			Unavailable.String(), err), nil)
	}
}

// Do sends req through a picked connection and waits for the response. A
// member whose connection broke while serving the request is marked
// unavailable.
func (b *Balancer) Do(ctx context.Context, req tarantool.Request) (*tarantool.Response, error) {
	conn, err := b.Pick(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	resp, err := conn.Do(req).GetResponse()
	if err != nil && transportFailure(err) {
		for _, m := range b.members {
			if m.node.Addr == conn.Addr() {
				b.down(m, err)
			}
		}
	}
	return resp, err
}

// Status returns a snapshot of every member.
func (b *Balancer) Status() []MemberStatus {
	statuses := make([]MemberStatus, 0, len(b.members))
	for _, m := range b.members {
		statuses = append(statuses, m.status())
	}
	return statuses
}

// Close closes pools of all members. Connections picked before are closed
// when they are released.
func (b *Balancer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.closePools()
}

func (b *Balancer) closePools() error {
	var errs *multierror.Error
	for _, m := range b.members {
		if err := m.pool.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.name(), err))
		}
	}
	return errs.ErrorOrNil()
}
