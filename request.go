package tarantool

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// Request is an interface that provides the necessary data to create a request
// that will be sent to a tarantool instance.
type Request interface {
	// Type returns a IPROTO type of the request.
	Type() iproto.Type
	// Body fills an msgpack.Encoder with a request body.
	Body(enc *msgpack.Encoder) error
	// Ctx returns a context of the request.
	Ctx() context.Context
}

type baseRequest struct {
	rtype iproto.Type
	ctx   context.Context
}

// Type returns a IPROTO type for the request.
func (req *baseRequest) Type() iproto.Type {
	return req.rtype
}

// Ctx returns a context of the request.
func (req *baseRequest) Ctx() context.Context {
	return req.ctx
}

// authRequest implements IPROTO_AUTH request.
type authRequest struct {
	auth       Auth
	user, pass string
	ctx        context.Context
}

// newChapSha1AuthRequest create a new authRequest with chap-sha1
// authentication method.
func newChapSha1AuthRequest(user, password, salt string) (authRequest, error) {
	req := authRequest{}
	scr, err := scramble(salt, password)
	if err != nil {
		return req, fmt.Errorf("scrambling failure: %w", err)
	}

	req.auth = ChapSha1Auth
	req.user = user
	req.pass = string(scr)
	return req, nil
}

// newPapSha256AuthRequest create a new authRequest with pap-sha256
// authentication method.
func newPapSha256AuthRequest(user, password string) authRequest {
	return authRequest{
		auth: PapSha256Auth,
		user: user,
		pass: password,
	}
}

// Type returns a IPROTO type for the request.
func (req authRequest) Type() iproto.Type {
	return iproto.IPROTO_AUTH
}

// Ctx returns a context of the request.
func (req authRequest) Ctx() context.Context {
	return req.ctx
}

// Body fills an encoder with the auth request body.
func (req authRequest) Body(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint32(uint32(iproto.IPROTO_USER_NAME)); err != nil {
		return err
	}
	if err := enc.EncodeString(req.user); err != nil {
		return err
	}
	if err := enc.EncodeUint32(uint32(iproto.IPROTO_TUPLE)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(req.auth.String()); err != nil {
		return err
	}
	return enc.EncodeString(req.pass)
}

// PingRequest helps you to create an execute request object for execution
// by a Connection.
type PingRequest struct {
	baseRequest
}

// NewPingRequest returns a new PingRequest.
func NewPingRequest() *PingRequest {
	req := new(PingRequest)
	req.rtype = iproto.IPROTO_PING
	return req
}

// Body fills an msgpack.Encoder with the ping request body.
func (req *PingRequest) Body(enc *msgpack.Encoder) error {
	return enc.EncodeMapLen(0)
}

// Context sets a passed context to the request.
//
// Pay attention that when using context with request objects,
// the timeout option for Connection does not affect the lifetime
// of the request. For those purposes use context.WithTimeout() as
// the root context.
func (req *PingRequest) Context(ctx context.Context) *PingRequest {
	req.ctx = ctx
	return req
}

// CallRequest helps you to create a call request object for execution
// by a Connection. It uses request code for Tarantool >= 1.7.
type CallRequest struct {
	baseRequest
	function string
	args     interface{}
}

// NewCallRequest returns a new empty CallRequest.
func NewCallRequest(function string) *CallRequest {
	req := new(CallRequest)
	req.rtype = iproto.IPROTO_CALL
	req.function = function
	return req
}

// Args sets the args for the call request.
// Note: default value is empty.
func (req *CallRequest) Args(args interface{}) *CallRequest {
	req.args = args
	return req
}

// Body fills an encoder with the call request body.
func (req *CallRequest) Body(enc *msgpack.Encoder) error {
	return fillCallOrEval(enc, iproto.IPROTO_FUNCTION_NAME, req.function, req.args)
}

// Context sets a passed context to the request.
func (req *CallRequest) Context(ctx context.Context) *CallRequest {
	req.ctx = ctx
	return req
}

// EvalRequest helps you to create an eval request object for execution
// by a Connection.
type EvalRequest struct {
	baseRequest
	expr string
	args interface{}
}

// NewEvalRequest returns a new empty EvalRequest.
func NewEvalRequest(expr string) *EvalRequest {
	req := new(EvalRequest)
	req.rtype = iproto.IPROTO_EVAL
	req.expr = expr
	return req
}

// Args sets the args for the eval request.
// Note: default value is empty.
func (req *EvalRequest) Args(args interface{}) *EvalRequest {
	req.args = args
	return req
}

// Body fills an msgpack.Encoder with the eval request body.
func (req *EvalRequest) Body(enc *msgpack.Encoder) error {
	return fillCallOrEval(enc, iproto.IPROTO_EXPR, req.expr, req.args)
}

// Context sets a passed context to the request.
func (req *EvalRequest) Context(ctx context.Context) *EvalRequest {
	req.ctx = ctx
	return req
}

func fillCallOrEval(enc *msgpack.Encoder, key iproto.Key, name string, args interface{}) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(key)); err != nil {
		return err
	}
	if err := enc.EncodeString(name); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(iproto.IPROTO_TUPLE)); err != nil {
		return err
	}
	if args == nil {
		return enc.EncodeArrayLen(0)
	}
	return enc.Encode(args)
}

var errEmptyRawBody = errors.New("raw request body must be a msgpack value")

// RawRequest sends a request with an arbitrary type and a pre-encoded
// msgpack body. It is the extension point for request types the client
// does not model.
type RawRequest struct {
	baseRequest
	body []byte
}

// NewRawRequest returns a new RawRequest of the given type. body must hold
// exactly one msgpack value, usually a map.
func NewRawRequest(rtype iproto.Type, body []byte) *RawRequest {
	req := new(RawRequest)
	req.rtype = rtype
	req.body = body
	return req
}

// Body writes the pre-encoded body as is.
func (req *RawRequest) Body(enc *msgpack.Encoder) error {
	if len(req.body) == 0 {
		return errEmptyRawBody
	}
	return enc.Encode(msgpack.RawMessage(req.body))
}

// Context sets a passed context to the request.
func (req *RawRequest) Context(ctx context.Context) *RawRequest {
	req.ctx = ctx
	return req
}
