// Package test_helpers provides an in-process IPROTO server and mocks for
// testing the connector without a running Tarantool instance.
package test_helpers

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ice-blockchain/go-tarantool-client"
)

// ServerVersion is the version the fake server puts into its greeting.
const ServerVersion = "2.11.1"

// IncomingRequest is a request decoded by the fake server.
type IncomingRequest struct {
	Header tarantool.Header
	Body   map[iproto.Key]interface{}
}

// Type returns the request type.
func (req *IncomingRequest) Type() iproto.Type {
	return iproto.Type(req.Header.Code)
}

// Args returns IPROTO_TUPLE of the request as a slice.
func (req *IncomingRequest) Args() []interface{} {
	args, _ := req.Body[iproto.IPROTO_TUPLE].([]interface{})
	return args
}

// Reply is a response the fake server sends back.
type Reply struct {
	// Code is iproto.IPROTO_OK or an error code without the error bit.
	Code uint32
	// Error marks the reply as an error response.
	Error bool
	Body  map[iproto.Key]interface{}
	// Sync overrides the sync id of the reply, zero keeps the request one.
	Sync uint32
	// Delay postpones the reply without blocking other replies.
	Delay time.Duration
}

// OkReply returns a successful reply with IPROTO_DATA.
func OkReply(data []interface{}) Reply {
	return Reply{Code: uint32(iproto.IPROTO_OK), Body: map[iproto.Key]interface{}{iproto.IPROTO_DATA: data}}
}

// ErrorReply returns an error reply with IPROTO_ERROR_24.
func ErrorReply(code iproto.Error, msg string) Reply {
	return Reply{
		Code:  uint32(code),
		Error: true,
		Body:  map[iproto.Key]interface{}{iproto.IPROTO_ERROR_24: msg},
	}
}

// Handler returns replies for a request. No replies means the server stays
// silent.
type Handler func(req *IncomingRequest) []Reply

// ServerOpts configures a fake server.
type ServerOpts struct {
	// Handler serves requests, DefaultHandler by default.
	Handler Handler
	// Greeting replaces the greeting. It may be malformed or short.
	Greeting []byte
	// GreetingChunk splits the greeting into writes of that size.
	GreetingChunk int
	// Features are feature codes sent in the IPROTO_ID response.
	Features []int
}

// Server is an in-process IPROTO server.
type Server struct {
	ln   net.Listener
	opts ServerOpts

	refuse   atomic.Bool
	accepted atomic.Int64
	requests atomic.Int64

	mutex sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer starts a server on a random local port. It is stopped on test
// cleanup.
func NewServer(t testing.TB, opts ServerOpts) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %s", err)
	}
	if opts.Handler == nil {
		opts.Handler = DefaultHandler
	}
	if opts.Features == nil {
		opts.Features = []int{0, 1, 2, 3, 4}
	}
	srv := &Server{
		ln:    ln,
		opts:  opts,
		conns: make(map[net.Conn]struct{}),
	}
	srv.wg.Add(1)
	go srv.accept()
	t.Cleanup(srv.Close)
	return srv
}

// Addr returns the listen address.
func (srv *Server) Addr() string {
	return srv.ln.Addr().String()
}

// SetRefuse makes the server drop new connections right after accept.
func (srv *Server) SetRefuse(refuse bool) {
	srv.refuse.Store(refuse)
}

// DropConnections closes every open client connection.
func (srv *Server) DropConnections() {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	for c := range srv.conns {
		c.Close()
	}
}

// Accepted returns the number of served connections.
func (srv *Server) Accepted() int64 {
	return srv.accepted.Load()
}

// Requests returns the number of decoded requests.
func (srv *Server) Requests() int64 {
	return srv.requests.Load()
}

// Close stops the server and closes all connections.
func (srv *Server) Close() {
	srv.ln.Close()
	srv.DropConnections()
	srv.wg.Wait()
}

func (srv *Server) accept() {
	defer srv.wg.Done()
	for {
		c, err := srv.ln.Accept()
		if err != nil {
			return
		}
		if srv.refuse.Load() {
			c.Close()
			continue
		}
		srv.accepted.Add(1)
		srv.mutex.Lock()
		srv.conns[c] = struct{}{}
		srv.mutex.Unlock()

		srv.wg.Add(1)
		go srv.serve(c)
	}
}

type serverConn struct {
	c     net.Conn
	wmut  sync.Mutex
	wg    sync.WaitGroup
	alive atomic.Bool
}

func (sc *serverConn) write(b []byte) {
	sc.wmut.Lock()
	defer sc.wmut.Unlock()
	if _, err := sc.c.Write(b); err != nil {
		sc.alive.Store(false)
	}
}

func (srv *Server) serve(c net.Conn) {
	defer srv.wg.Done()
	sc := &serverConn{c: c}
	sc.alive.Store(true)
	defer func() {
		c.Close()
		sc.wg.Wait()
		srv.mutex.Lock()
		delete(srv.conns, c)
		srv.mutex.Unlock()
	}()

	greeting := srv.opts.Greeting
	if greeting == nil {
		greeting = NewGreeting(ServerVersion, uuid.New())
	}
	chunk := srv.opts.GreetingChunk
	if chunk <= 0 {
		chunk = len(greeting)
	}
	for off := 0; off < len(greeting); off += chunk {
		end := off + chunk
		if end > len(greeting) {
			end = len(greeting)
		}
		sc.write(greeting[off:end])
		if end < len(greeting) {
			time.Sleep(time.Millisecond)
		}
	}

	var dec tarantool.FrameDecoder
	buf := make([]byte, 4096)
	for sc.alive.Load() {
		n, err := c.Read(buf)
		if n > 0 {
			ferr := dec.Feed(buf[:n], func(frame tarantool.Frame) error {
				return srv.handle(sc, frame)
			})
			if ferr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (srv *Server) handle(sc *serverConn, frame tarantool.Frame) error {
	srv.requests.Add(1)
	req := &IncomingRequest{Header: frame.Header}
	body, err := decodeBody(frame.Payload())
	if err != nil {
		return err
	}
	req.Body = body

	handler := srv.opts.Handler
	if req.Type() == iproto.IPROTO_ID {
		handler = srv.idHandler(handler)
	}
	for _, reply := range handler(req) {
		rid := req.Header.RequestId
		if reply.Sync != 0 {
			rid = reply.Sync
		}
		packet, err := EncodeReply(rid, reply)
		if err != nil {
			return err
		}
		if reply.Delay <= 0 {
			sc.write(packet)
			continue
		}
		sc.wg.Add(1)
		go func(delay time.Duration) {
			defer sc.wg.Done()
			time.Sleep(delay)
			sc.write(packet)
		}(reply.Delay)
	}
	return nil
}

// idHandler answers IPROTO_ID with the configured features unless the
// handler wants to answer it itself.
func (srv *Server) idHandler(next Handler) Handler {
	return func(req *IncomingRequest) []Reply {
		if replies := next(req); replies != nil {
			return replies
		}
		return []Reply{{
			Code: uint32(iproto.IPROTO_OK),
			Body: map[iproto.Key]interface{}{
				iproto.IPROTO_VERSION:   6,
				iproto.IPROTO_FEATURES:  srv.opts.Features,
				iproto.IPROTO_AUTH_TYPE: "chap-sha1",
			},
		}}
	}
}

func decodeBody(payload []byte) (map[iproto.Key]interface{}, error) {
	body := make(map[iproto.Key]interface{})
	if len(payload) == 0 {
		return body, nil
	}
	d := msgpack.NewDecoder(bytes.NewReader(payload))
	d.SetMapDecoder(func(dec *msgpack.Decoder) (interface{}, error) {
		return dec.DecodeUntypedMap()
	})
	l, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	for ; l > 0; l-- {
		key, err := d.DecodeInt()
		if err != nil {
			return nil, err
		}
		if body[iproto.Key(key)], err = d.DecodeInterface(); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// EncodeReply encodes a length-prefixed response packet.
func EncodeReply(sync uint32, reply Reply) ([]byte, error) {
	code := reply.Code
	if reply.Error {
		code |= uint32(iproto.IPROTO_TYPE_ERROR)
	}

	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	enc.EncodeMapLen(3)
	enc.EncodeUint(uint64(iproto.IPROTO_REQUEST_TYPE))
	enc.EncodeUint(uint64(code))
	enc.EncodeUint(uint64(iproto.IPROTO_SYNC))
	enc.EncodeUint(uint64(sync))
	enc.EncodeUint(uint64(iproto.IPROTO_SCHEMA_VERSION))
	enc.EncodeUint(1)

	if err := enc.EncodeMapLen(len(reply.Body)); err != nil {
		return nil, err
	}
	for key, value := range reply.Body {
		if err := enc.EncodeUint(uint64(key)); err != nil {
			return nil, err
		}
		if err := enc.Encode(value); err != nil {
			return nil, err
		}
	}

	packet := make([]byte, 5, 5+body.Len())
	packet[0] = 0xce
	binary.BigEndian.PutUint32(packet[1:], uint32(body.Len()))
	return append(packet, body.Bytes()...), nil
}

// NewGreeting builds a well-formed 128 byte greeting.
func NewGreeting(version string, instance uuid.UUID) []byte {
	salt := make([]byte, 32)
	copy(salt, instance[:])
	line1 := fmt.Sprintf("Tarantool %s (Binary) %s", version, instance)
	line2 := base64.StdEncoding.EncodeToString(salt)

	greeting := make([]byte, 0, tarantool.GreetingSize)
	greeting = append(greeting, padLine(line1)...)
	return append(greeting, padLine(line2)...)
}

func padLine(line string) []byte {
	const width = 64
	if len(line) > width-1 {
		line = line[:width-1]
	}
	return []byte(line + strings.Repeat(" ", width-1-len(line)) + "\n")
}

// DefaultHandler serves a minimal box:
//
// - PING, AUTH and transaction control requests succeed;
//
// - CALL "echo" and any EVAL return their arguments;
//
// - CALL "sleep" returns its arguments after the first argument seconds;
//
// - CALL of anything else fails with ER_NO_SUCH_PROC.
func DefaultHandler(req *IncomingRequest) []Reply {
	switch req.Type() {
	case iproto.IPROTO_ID:
		return nil
	case iproto.IPROTO_PING, iproto.IPROTO_AUTH,
		iproto.IPROTO_BEGIN, iproto.IPROTO_COMMIT, iproto.IPROTO_ROLLBACK:
		return []Reply{{Code: uint32(iproto.IPROTO_OK)}}
	case iproto.IPROTO_EVAL:
		return []Reply{OkReply(req.Args())}
	case iproto.IPROTO_CALL:
		name, _ := req.Body[iproto.IPROTO_FUNCTION_NAME].(string)
		switch name {
		case "echo":
			return []Reply{OkReply(req.Args())}
		case "sleep":
			reply := OkReply(req.Args())
			if args := req.Args(); len(args) > 0 {
				reply.Delay = time.Duration(toFloat(args[0]) * float64(time.Second))
			}
			return []Reply{reply}
		default:
			return []Reply{ErrorReply(iproto.ER_NO_SUCH_PROC,
				fmt.Sprintf("Procedure '%s' is not defined", name))}
		}
	default:
		return []Reply{ErrorReply(iproto.ER_UNKNOWN_REQUEST_TYPE,
			fmt.Sprintf("Unknown request type %d", req.Header.Code))}
	}
}

// SilentHandler answers the handshake and ignores every other request.
func SilentHandler(req *IncomingRequest) []Reply {
	return nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	default:
		return 0
	}
}
