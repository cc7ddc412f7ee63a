package pool

import (
	"sync/atomic"
)

// pool state
type state uint32

const (
	connectedState state = iota
	closedState
)

func (s *state) cas(olds, news state) bool {
	return atomic.CompareAndSwapUint32((*uint32)(s), uint32(olds), uint32(news))
}

func (s *state) get() state {
	return state(atomic.LoadUint32((*uint32)(s)))
}
