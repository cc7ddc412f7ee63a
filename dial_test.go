package tarantool_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		address string
		network string
		addr    string
	}{
		{"127.0.0.1:3013", "tcp", "127.0.0.1:3013"},
		{"my.host:3013", "tcp", "my.host:3013"},
		{"tcp://my.host:3013", "tcp", "my.host:3013"},
		{"tcp:127.0.0.1:3013", "tcp", "127.0.0.1:3013"},
		{"unix:///abs/path/tnt.sock", "unix", "/abs/path/tnt.sock"},
		{"unix:path/tnt.sock", "unix", "path/tnt.sock"},
		{"/abs/path/tnt.sock", "unix", "/abs/path/tnt.sock"},
		{"./rel/path/tnt.sock", "unix", "./rel/path/tnt.sock"},
		{"unix/:path/tnt.sock", "unix", "path/tnt.sock"},
	}
	for _, tc := range cases {
		t.Run(tc.address, func(t *testing.T) {
			network, addr := ParseAddress(tc.address)
			assert.Equal(t, tc.network, network)
			assert.Equal(t, tc.addr, addr)
		})
	}
}

func TestNetDialer_Dial(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})

	conn, err := NetDialer{}.Dial(context.Background(), "tcp://"+srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	greeting := make([]byte, GreetingSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = readFull(conn, greeting)
	require.NoError(t, err)
	parsed, err := ParseGreeting(greeting)
	require.NoError(t, err)
	assert.Equal(t, test_helpers.ServerVersion, parsed.ServerVersion)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func TestNetDialer_Dial_error(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NetDialer{}.Dial(context.Background(), addr)
	assert.Error(t, err)

	_, err = NetDialer{Transport: "quic"}.Dial(context.Background(), addr)
	assert.EqualError(t, err, "unsupported transport type: quic")
}

type countingDialer struct {
	calls atomic.Int32
	err   error
}

func (d *countingDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return NetDialer{}.Dial(ctx, address)
}

func TestConnect_CustomDialer(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{})
	dialer := &countingDialer{}

	conn := test_helpers.ConnectWithValidation(t, srv.Addr(), Opts{Dialer: dialer})
	assert.Equal(t, int32(1), dialer.calls.Load())
	assert.NotEmpty(t, conn.LocalAddr())
	assert.Equal(t, srv.Addr(), conn.RemoteAddr())

	dialErr := errors.New("dial failed")
	_, err := Connect(context.Background(), srv.Addr(), Opts{Dialer: &countingDialer{err: dialErr}})
	assert.ErrorIs(t, err, dialErr)
	assert.ErrorContains(t, err, "failed to dial")
}
