package tarantool

import (
	"context"
	"time"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

type TxnIsolationLevel uint

const (
	// By default, the isolation level of Tarantool is serializable.
	DefaultIsolationLevel TxnIsolationLevel = 0
	// The ReadCommittedLevel isolation level makes visible all transactions
	// that started commit.
	ReadCommittedLevel TxnIsolationLevel = 1
	// The ReadConfirmedLevel isolation level makes visible all transactions
	// that finished the commit.
	ReadConfirmedLevel TxnIsolationLevel = 2
	// If the BestEffortLevel (serializable) isolation level becomes unreachable,
	// the transaction is marked as «conflicted» and can no longer be committed.
	BestEffortLevel TxnIsolationLevel = 3
)

// Stream tags requests with a stream id, so the server executes them
// sequentially. Streams are required for interactive transactions.
type Stream struct {
	Id   uint64
	Conn *Connection
}

// Do sends the request within the stream and returns a future.
func (s *Stream) Do(req Request) *Future {
	return s.Conn.send(req, s.Id)
}

// BeginRequest helps you to create a begin request object for execution
// by a Stream.
// Begin request can not be processed out of stream.
type BeginRequest struct {
	baseRequest
	txnIsolation TxnIsolationLevel
	timeout      time.Duration
}

// NewBeginRequest returns a new BeginRequest.
func NewBeginRequest() *BeginRequest {
	req := new(BeginRequest)
	req.rtype = iproto.IPROTO_BEGIN
	req.txnIsolation = DefaultIsolationLevel
	return req
}

// TxnIsolation sets the the transaction isolation level for transaction manager.
func (req *BeginRequest) TxnIsolation(txnIsolation TxnIsolationLevel) *BeginRequest {
	req.txnIsolation = txnIsolation
	return req
}

// Timeout allows to set up a timeout for call BeginRequest.
func (req *BeginRequest) Timeout(timeout time.Duration) *BeginRequest {
	req.timeout = timeout
	return req
}

// Body fills an msgpack.Encoder with the begin request body.
func (req *BeginRequest) Body(enc *msgpack.Encoder) error {
	hasTimeout := req.timeout > 0
	hasIsolationLevel := req.txnIsolation != DefaultIsolationLevel

	mapLen := 0
	if hasTimeout {
		mapLen++
	}
	if hasIsolationLevel {
		mapLen++
	}
	if err := enc.EncodeMapLen(mapLen); err != nil {
		return err
	}

	if hasTimeout {
		if err := enc.EncodeUint(uint64(iproto.IPROTO_TIMEOUT)); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(req.timeout.Seconds()); err != nil {
			return err
		}
	}
	if hasIsolationLevel {
		if err := enc.EncodeUint(uint64(iproto.IPROTO_TXN_ISOLATION)); err != nil {
			return err
		}
		if err := enc.EncodeUint(uint64(req.txnIsolation)); err != nil {
			return err
		}
	}
	return nil
}

// Context sets a passed context to the request.
func (req *BeginRequest) Context(ctx context.Context) *BeginRequest {
	req.ctx = ctx
	return req
}

// CommitRequest helps you to create a commit request object for execution
// by a Stream.
type CommitRequest struct {
	baseRequest
}

// NewCommitRequest returns a new CommitRequest.
func NewCommitRequest() *CommitRequest {
	req := new(CommitRequest)
	req.rtype = iproto.IPROTO_COMMIT
	return req
}

// Body fills an msgpack.Encoder with the commit request body.
func (req *CommitRequest) Body(enc *msgpack.Encoder) error {
	return enc.EncodeMapLen(0)
}

// Context sets a passed context to the request.
func (req *CommitRequest) Context(ctx context.Context) *CommitRequest {
	req.ctx = ctx
	return req
}

// RollbackRequest helps you to create a rollback request object for execution
// by a Stream.
type RollbackRequest struct {
	baseRequest
}

// NewRollbackRequest returns a new RollbackRequest.
func NewRollbackRequest() *RollbackRequest {
	req := new(RollbackRequest)
	req.rtype = iproto.IPROTO_ROLLBACK
	return req
}

// Body fills an msgpack.Encoder with the rollback request body.
func (req *RollbackRequest) Body(enc *msgpack.Encoder) error {
	return enc.EncodeMapLen(0)
}

// Context sets a passed context to the request.
func (req *RollbackRequest) Context(ctx context.Context) *RollbackRequest {
	req.ctx = ctx
	return req
}
