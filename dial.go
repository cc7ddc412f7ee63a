package tarantool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tarantool/go-iproto"
)

const (
	dialTransportNone = ""
	dialTransportSsl  = "ssl"
)

// Dialer is the interface that wraps a method to open a transport to a
// Tarantool instance. The greeting, identification and authentication are
// done by the Connection on top of the returned net.Conn.
type Dialer interface {
	// Dial opens a stream-oriented network connection to the address.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// NetDialer is a default implementation of the Dialer interface which is
// used by the connector.
type NetDialer struct {
	// Transport is the connection type, by default the connection is
	// unencrypted.
	Transport string
	// Ssl is used only if the Transport == "ssl" is set.
	Ssl SslOpts
}

// Dial connects to the address. The address format is described in Connect.
func (d NetDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	network, address := parseAddress(address)
	switch d.Transport {
	case dialTransportNone:
		var dialer net.Dialer
		return dialer.DialContext(ctx, network, address)
	case dialTransportSsl:
		timeout := defaultConnectTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		return sslDialTimeout(network, address, timeout, d.Ssl)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", d.Transport)
	}
}

// parseAddress split address into network and address parts.
func parseAddress(address string) (string, string) {
	network := "tcp"
	addrLen := len(address)

	if addrLen > 0 && (address[0] == '.' || address[0] == '/') {
		network = "unix"
	} else if addrLen >= 7 && address[0:7] == "unix://" {
		network = "unix"
		address = address[7:]
	} else if addrLen >= 5 && address[0:5] == "unix:" {
		network = "unix"
		address = address[5:]
	} else if addrLen >= 6 && address[0:6] == "unix/:" {
		network = "unix"
		address = address[6:]
	} else if addrLen >= 6 && address[0:6] == "tcp://" {
		address = address[6:]
	} else if addrLen >= 4 && address[0:4] == "tcp:" {
		address = address[4:]
	}

	return network, address
}

// deadlineIO sets a write deadline before every write.
type deadlineIO struct {
	to time.Duration
	c  net.Conn
}

func (d *deadlineIO) Write(b []byte) (int, error) {
	if d.to > 0 {
		if err := d.c.SetWriteDeadline(time.Now().Add(d.to)); err != nil {
			return 0, err
		}
	}
	return d.c.Write(b)
}

// identify sends info about client protocol, receives info
// about server protocol in response and stores it in the connection.
func (conn *Connection) identify(ctx context.Context) (ProtocolInfo, error) {
	resp, err := conn.Do(NewIdRequest(clientProtocolInfo).Context(ctx)).GetResponse()
	if err != nil {
		var tnterr Error
		if errors.As(err, &tnterr) && tnterr.Code == iproto.ER_UNKNOWN_REQUEST_TYPE {
			// IPROTO_ID requests are not supported by server.
			return ProtocolInfo{}, nil
		}
		return ProtocolInfo{}, err
	}
	return DecodeProtocolInfo(resp)
}

// authenticate authenticates the connection with the greeting salt.
func (conn *Connection) authenticate(ctx context.Context) error {
	opts := conn.opts
	auth := opts.Auth
	if auth == AutoAuth {
		if conn.serverProtocolInfo.Auth != AutoAuth {
			auth = conn.serverProtocolInfo.Auth
		} else {
			auth = ChapSha1Auth
		}
	}

	var req authRequest
	var err error

	switch auth {
	case ChapSha1Auth:
		req, err = newChapSha1AuthRequest(opts.User, opts.Pass, conn.greeting.Salt)
		if err != nil {
			return err
		}
	case PapSha256Auth:
		if opts.Transport != dialTransportSsl {
			return errors.New("forbidden to use " + auth.String() +
				" unless SSL is enabled for the connection")
		}
		req = newPapSha256AuthRequest(opts.User, opts.Pass)
	default:
		return errors.New("unsupported method " + auth.String())
	}
	req.ctx = ctx

	_, err = conn.Do(req).GetResponse()
	return err
}
