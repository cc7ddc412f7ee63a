// Package tarantool implements the client side of the IPROTO protocol: the
// frame codec, the greeting handshake, request correlation and a connection
// state machine. Connection pools and multi-node balancing live in the pool
// and balancer subpackages.
package tarantool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ConnState is a state of a Connection.
type ConnState uint32

const (
	// StateConnecting is the state while the transport is being opened.
	StateConnecting ConnState = iota
	// StateHandshaking is the state while the greeting is awaited.
	StateHandshaking
	// StateReady is the only state requests are accepted in.
	StateReady
	// StateClosing is the state of a graceful close: new requests are
	// rejected, pending ones are still served.
	StateClosing
	// StateClosed is the terminal state after Close.
	StateClosed
	// StateFailed is the terminal state after a transport, protocol or
	// idle-timeout failure.
	StateFailed
)

// String returns a name of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state (%d)", uint32(s))
	}
}

// ConnEventKind is a kind of a connection status change sent to Opts.Notify.
type ConnEventKind int

const (
	// Connected signals that connection is established.
	Connected ConnEventKind = iota + 1
	// Disconnected signals that connection is broken.
	Disconnected
	// Closed signals that connection reached a terminal state.
	Closed
)

// ConnEvent is sent throw Notify channel specified in Opts.
type ConnEvent struct {
	Conn *Connection
	Kind ConnEventKind
	When time.Time
}

// Opts is a way to configure Connection
type Opts struct {
	// Timeout for response to a particular request. If Timeout is zero, any
	// request can be blocked until the connection fails.
	//
	// Pay attention, when using contexts with request objects,
	// the timeout option for Connection does not affect the lifetime
	// of the request. For those purposes use context.WithTimeout() as
	// the root context.
	Timeout time.Duration
	// ConnectTimeout bounds the dial and the whole handshake. By default it
	// is 5 seconds.
	ConnectTimeout time.Duration
	// IoTimeout is a timeout per a network write.
	IoTimeout time.Duration
	// IdleTimeout fails the connection when nothing was read from it for
	// that long. Every pending request gets ClientError{ErrIdleTimeout}.
	// Zero disables the watchdog.
	IdleTimeout time.Duration
	// PingInterval is a period of keepalive pings. By default it is a third
	// of IdleTimeout, a negative value disables pings.
	PingInterval time.Duration
	// MaxPacketSize limits the body of an inbound packet, a larger packet
	// fails the connection. DefaultMaxPacketSize is used if zero.
	MaxPacketSize uint32
	// Auth is an authentication method.
	Auth Auth
	// Username for logging in to Tarantool.
	User string
	// User password for logging in to Tarantool.
	Pass string
	// RequiredProtocolInfo contains minimal protocol version and
	// list of protocol features that should be supported by
	// Tarantool server. By default there are no restrictions.
	RequiredProtocolInfo ProtocolInfo
	// Dialer opens the transport. By default it is NetDialer configured
	// with Transport and Ssl.
	Dialer Dialer
	// Transport is the connection type, by default the connection is unencrypted.
	Transport string
	// Ssl is used only if the Transport == 'ssl' is set.
	Ssl SslOpts
	// Notify is a channel which receives notifications about Connection status
	// changes.
	Notify chan<- ConnEvent
	// Handle is user specified value, that could be retrivied with
	// Handle() method.
	Handle interface{}
	// Logger is user specified logger used for error messages.
	Logger Logger
}

// SslOpts is a way to configure ssl transport.
type SslOpts struct {
	// KeyFile is a path to a private SSL key file.
	KeyFile string
	// CertFile is a path to an SSL certificate file.
	CertFile string
	// CaFile is a path to a trusted certificate authorities (CA) file.
	CaFile string
	// Ciphers is a colon-separated (:) list of SSL cipher suites the connection
	// can use.
	Ciphers string
}

// Clone returns a copy of the Opts object.
func (opts Opts) Clone() Opts {
	optsCopy := opts
	optsCopy.RequiredProtocolInfo = opts.RequiredProtocolInfo.Clone()

	return optsCopy
}

// Connection is a handle with a single connection to a Tarantool instance.
//
// It is created and configured with Connect function, and could not be
// reconfigured later. A Connection never reconnects: once it reaches
// StateClosed or StateFailed it rejects every request with
// ClientError{Code: ErrConnectionClosed}.
type Connection struct {
	id    uuid.UUID
	addr  string
	c     net.Conn
	opts  Opts
	state atomic.Uint32

	greeting           Greeting
	serverProtocolInfo ProtocolInfo

	corr    *correlator
	inbound *pipeline
	greeted chan error

	bufmut sync.Mutex
	buf    smallWBuf
	enc    *msgpack.Encoder
	dirty  chan struct{}

	control chan struct{}
	mutex   sync.Mutex
	final   bool
	err     error

	lastStreamId atomic.Uint64
}

var _ = Doer(&Connection{}) // Check compatibility with Doer interface.

// Connect creates and configures a new Connection.
//
// Address could be specified in following ways:
//
// - TCP connections (tcp://192.168.1.1:3013, tcp://my.host:3013,
// tcp:192.168.1.1:3013, tcp:my.host:3013, 192.168.1.1:3013, my.host:3013)
//
// - Unix socket, first '/' or '.' indicates Unix socket
// (unix:///abs/path/tnt.sock, unix:path/tnt.sock, /abs/path/tnt.sock,
// ./rel/path/tnt.sock, unix/:path/tnt.sock)
//
// Connect returns only a ready connection: the greeting is parsed, the
// protocol is identified and the user is authenticated.
func Connect(ctx context.Context, addr string, opts Opts) (*Connection, error) {
	conn := &Connection{
		id:      uuid.New(),
		addr:    addr,
		opts:    opts.Clone(),
		corr:    newCorrelator(),
		greeted: make(chan error, 1),
		dirty:   make(chan struct{}, 1),
		control: make(chan struct{}),
	}
	if conn.opts.Logger == nil {
		conn.opts.Logger = NewSlogLogger(nil)
	}
	if conn.opts.Dialer == nil {
		conn.opts.Dialer = NetDialer{Transport: conn.opts.Transport, Ssl: conn.opts.Ssl}
	}
	if conn.opts.ConnectTimeout <= 0 {
		conn.opts.ConnectTimeout = defaultConnectTimeout
	}
	conn.state.Store(uint32(StateConnecting))

	ctx, cancel := context.WithTimeout(ctx, conn.opts.ConnectTimeout)
	defer cancel()

	c, err := conn.opts.Dialer.Dial(ctx, addr)
	if err != nil {
		err = fmt.Errorf("failed to dial: %w", err)
		conn.report(ConnectionFailedEvent{baseEvent: conn.event(), Error: err})
		return nil, err
	}
	conn.c = c
	conn.state.Store(uint32(StateHandshaking))
	conn.inbound = newPipeline(
		newGreetingStage(conn.onGreeting),
		&frameStage{
			dec:  FrameDecoder{MaxPacketSize: conn.opts.MaxPacketSize},
			emit: conn.handleFrame,
		},
	)
	go conn.reader()

	if err = conn.handshake(ctx); err != nil {
		conn.terminate(StateFailed, err)
		conn.report(ConnectionFailedEvent{baseEvent: conn.event(), Error: err})
		return nil, err
	}

	conn.report(ConnectedEvent{baseEvent: conn.event(), Greeting: conn.greeting})
	conn.notify(Connected)
	return conn, nil
}

func (conn *Connection) handshake(ctx context.Context) error {
	select {
	case err := <-conn.greeted:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ClientError{
			ErrBadGreeting,
			fmt.Sprintf("no greeting received: %s", context.Cause(ctx)),
		}
	}

	conn.corr.touch()
	if !conn.state.CompareAndSwap(uint32(StateHandshaking), uint32(StateReady)) {
		return ClientError{ErrConnectionClosed, "connection closed during handshake"}
	}
	go conn.writer()
	if conn.opts.IdleTimeout > 0 {
		go conn.idleWatchdog()
	}
	if interval := conn.pingInterval(); interval > 0 {
		go conn.pinger(interval)
	}

	var err error
	if conn.serverProtocolInfo, err = conn.identify(ctx); err != nil {
		return fmt.Errorf("failed to identify: %w", err)
	}
	if err = checkProtocolInfo(conn.opts.RequiredProtocolInfo, conn.serverProtocolInfo); err != nil {
		return fmt.Errorf("invalid server protocol: %w", err)
	}
	if conn.opts.User != "" {
		if err = conn.authenticate(ctx); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	return nil
}

func (conn *Connection) onGreeting(greeting Greeting) {
	conn.greeting = greeting
	select {
	case conn.greeted <- nil:
	default:
	}
}

func (conn *Connection) pingInterval() time.Duration {
	if conn.opts.PingInterval != 0 {
		return conn.opts.PingInterval
	}
	return conn.opts.IdleTimeout / 3
}

// State returns the current state of the connection.
func (conn *Connection) State() ConnState {
	return ConnState(conn.state.Load())
}

// ConnectedNow reports if connection accepts requests at the moment.
func (conn *Connection) ConnectedNow() bool {
	return conn.State() == StateReady
}

// ClosedNow reports if connection reached a terminal state.
func (conn *Connection) ClosedNow() bool {
	state := conn.State()
	return state == StateClosed || state == StateFailed
}

// Err returns the error the connection was terminated with, nil while the
// connection is alive.
func (conn *Connection) Err() error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.err
}

// Close closes Connection. Pending requests fail with
// ClientError{Code: ErrConnectionClosed}.
// After this method called, there is no way to reopen this Connection.
func (conn *Connection) Close() error {
	return conn.terminate(StateClosed, ClientError{ErrConnectionClosed, "connection closed by client"})
}

// CloseGraceful stops accepting new requests, waits for pending requests to
// finish and closes the connection. If ctx is done first the remaining
// requests fail as with Close.
func (conn *Connection) CloseGraceful(ctx context.Context) error {
	if !conn.state.CompareAndSwap(uint32(StateReady), uint32(StateClosing)) {
		return conn.Close()
	}

	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for conn.corr.len() > 0 {
		select {
		case <-ctx.Done():
			return conn.Close()
		case <-conn.control:
			return conn.Close()
		case <-t.C:
		}
	}
	return conn.Close()
}

// Addr returns a configured address of Tarantool socket.
func (conn *Connection) Addr() string {
	return conn.addr
}

// RemoteAddr returns an address of Tarantool socket.
func (conn *Connection) RemoteAddr() string {
	if conn.c == nil {
		return ""
	}
	return conn.c.RemoteAddr().String()
}

// LocalAddr returns an address of outgoing socket.
func (conn *Connection) LocalAddr() string {
	if conn.c == nil {
		return ""
	}
	return conn.c.LocalAddr().String()
}

// Id returns a random id of the connection used in logs.
func (conn *Connection) Id() uuid.UUID {
	return conn.id
}

// Greeting returns the greeting sent by the server.
func (conn *Connection) Greeting() Greeting {
	return conn.greeting
}

// ProtocolInfo returns protocol version and protocol features
// supported by connected Tarantool server. Beware that values might be
// outdated if connection is in a disconnected state.
func (conn *Connection) ProtocolInfo() ProtocolInfo {
	return conn.serverProtocolInfo.Clone()
}

// Handle returns a user-specified handle from Opts.
func (conn *Connection) Handle() interface{} {
	return conn.opts.Handle
}

// ConfiguredTimeout returns a timeout from connection config.
func (conn *Connection) ConfiguredTimeout() time.Duration {
	return conn.opts.Timeout
}

// Pending returns the number of requests waiting for a response.
func (conn *Connection) Pending() int {
	return conn.corr.len()
}

func (conn *Connection) event() baseEvent {
	return newBaseEvent(componentConnection, conn.addr)
}

func (conn *Connection) report(event LogEvent) {
	conn.opts.Logger.Report(event, conn)
}

func (conn *Connection) notify(kind ConnEventKind) {
	if conn.opts.Notify != nil {
		select {
		case conn.opts.Notify <- ConnEvent{Kind: kind, Conn: conn, When: time.Now()}:
		default:
		}
	}
}

// terminate moves the connection to a terminal state exactly once, releases
// the transport and fails every pending request with reason.
func (conn *Connection) terminate(final ConnState, reason error) error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	if conn.final {
		return nil
	}
	conn.final = true
	conn.err = reason

	conn.state.Store(uint32(final))
	close(conn.control)
	var err error
	if conn.c != nil {
		err = conn.c.Close()
	}
	conn.corr.failAll(reason)

	if final == StateFailed {
		conn.report(DisconnectedEvent{baseEvent: conn.event(), Reason: reason})
		conn.notify(Disconnected)
	}
	conn.report(ClosedEvent{baseEvent: conn.event()})
	conn.notify(Closed)
	return err
}

// fail terminates the connection after an I/O, protocol or idle failure.
func (conn *Connection) fail(err error) {
	if conn.State() == StateHandshaking {
		if !errors.Is(err, ClientError{Code: ErrBadGreeting}) {
			err = ClientError{ErrBadGreeting, "failed to read greeting: " + err.Error()}
		}
		select {
		case conn.greeted <- err:
		default:
		}
	}
	conn.terminate(StateFailed, err)
}

func (conn *Connection) reader() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.c.Read(buf)
		if n > 0 {
			conn.corr.touch()
			if perr := conn.inbound.feed(buf[:n]); perr != nil {
				conn.fail(perr)
				return
			}
		}
		if err != nil {
			conn.fail(err)
			return
		}
	}
}

func (conn *Connection) handleFrame(frame Frame) error {
	if frame.Header.Code == PushCode {
		conn.report(BoxSessionPushUnsupportedEvent{
			baseEvent: conn.event(),
			RequestId: frame.Header.RequestId,
		})
		return nil
	}
	if !conn.corr.resolve(frame) {
		conn.report(UnexpectedResultIdEvent{
			baseEvent: conn.event(),
			RequestId: frame.Header.RequestId,
		})
	}
	return nil
}

func (conn *Connection) writer() {
	w := &deadlineIO{to: conn.opts.IoTimeout, c: conn.c}
	var packet smallWBuf
	for {
		select {
		case <-conn.dirty:
		case <-conn.control:
			return
		}
		conn.bufmut.Lock()
		packet, conn.buf = conn.buf, packet
		conn.bufmut.Unlock()
		if packet.Len() == 0 {
			continue
		}
		if err := write(w, packet.b); err != nil {
			conn.fail(err)
			return
		}
		packet.Reset()
	}
}

func (conn *Connection) idleWatchdog() {
	idle := conn.opts.IdleTimeout
	tick := idle / 4
	if tick < minIdleTick {
		tick = minIdleTick
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-conn.control:
			return
		case now := <-t.C:
			if inactive := conn.corr.idleFor(now); inactive >= idle {
				conn.report(IdleTimeoutEvent{
					baseEvent: conn.event(),
					Idle:      inactive,
					Pending:   conn.corr.len(),
				})
				conn.fail(ClientError{
					ErrIdleTimeout,
					fmt.Sprintf("no data read from %s for %s", conn.addr, inactive),
				})
				return
			}
		}
	}
}

func (conn *Connection) pinger(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-conn.control:
			return
		case <-t.C:
		}
		conn.Do(NewPingRequest())
	}
}

func (conn *Connection) send(req Request, streamId uint64) *Future {
	fut := NewFuture(req)
	switch state := conn.State(); state {
	case StateReady:
	case StateConnecting, StateHandshaking:
		fut.SetError(ClientError{ErrConnectionNotReady, "client connection is not ready"})
		return fut
	default:
		fut.SetError(ClientError{
			ErrConnectionClosed,
			fmt.Sprintf("using %s connection", state),
		})
		return fut
	}

	ctx := req.Ctx()
	if ctx != nil {
		select {
		case <-ctx.Done():
			fut.SetError(fmt.Errorf("context is done: %w", context.Cause(ctx)))
			return fut
		default:
		}
	}

	fut.conn = conn
	if err := conn.corr.register(fut); err != nil {
		fut.SetError(err)
		return fut
	}

	conn.bufmut.Lock()
	if conn.buf.Cap() == 0 {
		conn.buf.b = make([]byte, 0, 128)
		conn.enc = msgpack.NewEncoder(&conn.buf)
	}
	blen := conn.buf.Len()
	if err := pack(&conn.buf, conn.enc, fut.requestId, req, streamId); err != nil {
		conn.buf.Trunc(blen)
		conn.bufmut.Unlock()
		conn.corr.cancel(fut, fmt.Errorf("pack error: %w", err))
		return fut
	}
	conn.bufmut.Unlock()

	select {
	case conn.dirty <- struct{}{}:
	default:
	}

	if ctx != nil {
		go conn.contextWatchdog(fut, ctx)
	} else if conn.opts.Timeout > 0 {
		go conn.timeoutWatchdog(fut, conn.opts.Timeout)
	}
	return fut
}

// contextWatchdog removes a future from the pending table if the context
// is "done" before the response is come.
func (conn *Connection) contextWatchdog(fut *Future, ctx context.Context) {
	select {
	case <-fut.done:
	case <-ctx.Done():
		conn.corr.cancel(fut, fmt.Errorf("context is done (request ID %d): %w",
			fut.requestId, context.Cause(ctx)))
	}
}

func (conn *Connection) timeoutWatchdog(fut *Future, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-fut.done:
	case <-t.C:
		conn.report(TimeoutEvent{
			baseEvent: conn.event(),
			RequestId: fut.requestId,
			Timeout:   timeout,
		})
		conn.corr.cancel(fut, ClientError{
			Code: ErrTimeouted,
			Msg:  fmt.Sprintf("client timeout for request %d", fut.requestId),
		})
	}
}

// Do performs a request asynchronously on the connection.
//
// The returned future is finished with an error if the connection is not
// ready, the context of the request is done or the request could not be
// encoded.
func (conn *Connection) Do(req Request) *Future {
	return conn.send(req, ignoreStreamId)
}

// NewStream creates new Stream object for connection.
//
// Since v. 2.10.0, Tarantool supports streams and interactive transactions over them.
// To use interactive transactions, memtx_use_mvcc_engine box option should be set to true.
func (conn *Connection) NewStream() (*Stream, error) {
	if !conn.serverProtocolInfo.Has(StreamsFeature) {
		return nil, fmt.Errorf("%s is not supported by %s", StreamsFeature, conn.addr)
	}
	next := conn.lastStreamId.Add(1)
	return &Stream{
		Id:   next,
		Conn: conn,
	}, nil
}
