package test_helpers

import (
	"context"
	"errors"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrStrangerBody is returned by StrangerRequest.Body.
var ErrStrangerBody = errors.New("stranger request can not be encoded")

// StrangerRequest is a request whose body always fails to encode.
type StrangerRequest struct {
	ctx context.Context
}

func NewStrangerRequest() *StrangerRequest {
	return &StrangerRequest{}
}

func (sr *StrangerRequest) Type() iproto.Type {
	return iproto.IPROTO_CALL
}

func (sr *StrangerRequest) Body(enc *msgpack.Encoder) error {
	return ErrStrangerBody
}

func (sr *StrangerRequest) Ctx() context.Context {
	return sr.ctx
}

// Context sets a passed context to the request.
func (sr *StrangerRequest) Context(ctx context.Context) *StrangerRequest {
	sr.ctx = ctx
	return sr
}
