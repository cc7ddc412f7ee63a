package tarantool

import (
	"context"
	"fmt"
	"sync"
)

// Future is a handle for asynchronous request.
type Future struct {
	requestId uint32
	req       Request
	conn      *Connection
	mutex     sync.Mutex
	resp      *Response
	err       error
	done      chan struct{}
}

// NewFuture creates a new empty Future for a given Request.
func NewFuture(req Request) *Future {
	return &Future{
		req:  req,
		done: make(chan struct{}),
	}
}

func (fut *Future) isDone() bool {
	select {
	case <-fut.done:
		return true
	default:
		return false
	}
}

// SetResponse sets a response for the future and finishes the future. It
// reports false if the future was already finished.
func (fut *Future) SetResponse(header Header, payload []byte) bool {
	fut.mutex.Lock()
	defer fut.mutex.Unlock()

	if fut.isDone() {
		return false
	}
	fut.resp = &Response{header: header, payload: payload}
	close(fut.done)
	return true
}

// SetError sets an error for the future and finishes the future. It
// reports false if the future was already finished.
func (fut *Future) SetError(err error) bool {
	fut.mutex.Lock()
	defer fut.mutex.Unlock()

	if fut.isDone() {
		return false
	}
	fut.err = err
	close(fut.done)
	return true
}

// GetResponse waits for Future to be filled and returns Response and error.
//
// Note: Response could be equal to nil if ClientError is returned in error.
//
// "error" could be Error, if it is error returned by Tarantool,
// or ClientError, if something bad happens in a client process.
func (fut *Future) GetResponse() (*Response, error) {
	<-fut.done
	if fut.err != nil {
		return nil, fut.err
	}
	return fut.resp, fut.resp.Err()
}

// Get waits for Future to be filled and returns the data of the Response and error.
//
// The data will be []interface{}, so if you want more performance, use GetTyped method.
//
// "error" could be Error, if it is error returned by Tarantool,
// or ClientError, if something bad happens in a client process.
func (fut *Future) Get() ([]interface{}, error) {
	<-fut.done
	if fut.err != nil {
		return nil, fut.err
	}
	return fut.resp.Decode()
}

// GetTyped waits for Future and calls msgpack.Decoder.Decode(result) if no error happens.
// It is could be much faster than Get() function.
func (fut *Future) GetTyped(result interface{}) error {
	<-fut.done
	if fut.err != nil {
		return fut.err
	}
	return fut.resp.DecodeTyped(result)
}

// WaitChan returns channel which becomes closed when response arrived or error occurred.
func (fut *Future) WaitChan() <-chan struct{} {
	return fut.done
}

// Err returns error set on Future.
// It waits for future to be set.
// Note: it doesn't decode body, therefore decoding error are not set here.
func (fut *Future) Err() error {
	<-fut.done
	return fut.err
}

// RequestId returns the sync id assigned to the request, 0 if the request
// never reached a connection.
func (fut *Future) RequestId() uint32 {
	return fut.requestId
}

// Request returns the request the future belongs to.
func (fut *Future) Request() Request {
	return fut.req
}

// Cancel stops waiting for the response. The connection stays usable and a
// late response for the request is dropped. Cancel is a no-op for a finished
// future.
func (fut *Future) Cancel() {
	err := fmt.Errorf("request %d canceled: %w", fut.requestId, context.Canceled)
	if fut.conn != nil {
		fut.conn.corr.cancel(fut, err)
		return
	}
	fut.SetError(err)
}
