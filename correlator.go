package tarantool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// correlator matches responses to pending requests by sync id and tracks
// read activity of a connection.
type correlator struct {
	requestId atomic.Uint32
	pending   *xsync.MapOf[uint32, *Future]
	// mutex orders registrations against failAll: once closeErr is set no
	// future can enter the table.
	mutex    sync.RWMutex
	closeErr error
	lastRead atomic.Int64
}

func newCorrelator() *correlator {
	c := &correlator{
		pending: xsync.NewMapOf[uint32, *Future](),
	}
	c.touch()
	return c
}

// register assigns the next free sync id to fut and inserts it into the
// pending table. It must be called before the request is written.
func (c *correlator) register(fut *Future) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closeErr != nil {
		return c.closeErr
	}
	for {
		id := c.requestId.Add(1)
		if id == 0 {
			continue
		}
		fut.requestId = id
		if _, loaded := c.pending.LoadOrStore(id, fut); !loaded {
			return nil
		}
	}
}

// resolve completes the future waiting for the frame. It reports false if
// nobody waits for the sync id.
func (c *correlator) resolve(frame Frame) bool {
	fut, ok := c.pending.LoadAndDelete(frame.Header.RequestId)
	if !ok {
		return false
	}
	fut.SetResponse(frame.Header, frame.Payload())
	return true
}

// cancel removes fut from the table if it is still there and finishes it
// with err.
func (c *correlator) cancel(fut *Future, err error) {
	c.pending.Compute(fut.requestId, func(old *Future, loaded bool) (*Future, bool) {
		return old, !loaded || old == fut
	})
	fut.SetError(err)
}

// failAll closes the table for new registrations and finishes every pending
// future with err. Only the first error is kept.
func (c *correlator) failAll(err error) {
	c.mutex.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	err = c.closeErr
	c.mutex.Unlock()

	c.pending.Range(func(id uint32, _ *Future) bool {
		if fut, ok := c.pending.LoadAndDelete(id); ok {
			fut.SetError(err)
		}
		return true
	})
}

func (c *correlator) len() int {
	return c.pending.Size()
}

func (c *correlator) touch() {
	c.lastRead.Store(time.Now().UnixNano())
}

func (c *correlator) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastRead.Load()))
}
