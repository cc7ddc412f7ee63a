//go:build go_tarantool_ssl_disable
// +build go_tarantool_ssl_disable

package tarantool

import (
	"errors"
	"net"
	"time"
)

var errSslDisabled = errors.New("ssl support is disabled")

func sslDialTimeout(network, address string, timeout time.Duration,
	opts SslOpts) (net.Conn, error) {
	return nil, errSslDisabled
}

func sslCreateContext(opts SslOpts) (interface{}, error) {
	return nil, errSslDisabled
}
