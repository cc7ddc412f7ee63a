package balancer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/pool"
)

// Health is a health flag of a member.
type Health uint32

const (
	Available Health = iota
	Unavailable
)

func (h Health) String() string {
	switch h {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MemberStatus is a snapshot of a member.
type MemberStatus struct {
	Name      string
	Addr      string
	Health    Health
	FailedAt  time.Time
	LastError error
	Pool      pool.Stat
}

type member struct {
	node     Node
	pool     *pool.Pool
	health   atomic.Uint32
	failedAt atomic.Int64

	mutex   sync.Mutex
	lastErr error
}

func (m *member) name() string {
	if m.node.Name != "" {
		return m.node.Name
	}
	return m.node.Addr
}

func (m *member) get() Health {
	return Health(m.health.Load())
}

// due reports whether an unavailable member should be probed in the first
// pass of a pick.
func (m *member) due(now time.Time, retry time.Duration) bool {
	return now.Sub(time.Unix(0, m.failedAt.Load())) >= retry
}

// markUnavailable reports whether the member was available before.
func (m *member) markUnavailable(err error) bool {
	m.mutex.Lock()
	m.lastErr = err
	m.mutex.Unlock()
	m.failedAt.Store(time.Now().UnixNano())
	return m.health.Swap(uint32(Unavailable)) == uint32(Available)
}

// markAvailable reports whether the member was unavailable before.
func (m *member) markAvailable() bool {
	return m.health.Swap(uint32(Available)) == uint32(Unavailable)
}

func (m *member) status() MemberStatus {
	st := MemberStatus{
		Name:   m.name(),
		Addr:   m.node.Addr,
		Health: m.get(),
		Pool:   m.pool.Stat(),
	}
	if failedAt := m.failedAt.Load(); failedAt != 0 {
		st.FailedAt = time.Unix(0, failedAt)
	}
	m.mutex.Lock()
	st.LastError = m.lastErr
	m.mutex.Unlock()
	return st
}

// transportFailure reports whether err means the member can not serve
// requests at all, as opposed to a request level failure.
func transportFailure(err error) bool {
	var clierr tarantool.ClientError
	if !errors.As(err, &clierr) {
		return false
	}
	switch clierr.Code {
	case tarantool.ErrConnectionClosed, tarantool.ErrProtocolError,
		tarantool.ErrIdleTimeout, tarantool.ErrBadGreeting:
		return true
	}
	return false
}
