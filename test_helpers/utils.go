package test_helpers

import (
	"context"
	"testing"

	"github.com/ice-blockchain/go-tarantool-client"
)

// ConnectWithValidation tries to connect to an IProto server.
// It returns a valid connection if it is successful, otherwise finishes a test
// with an error. The connection is closed when the test ends.
func ConnectWithValidation(t testing.TB,
	server string,
	opts tarantool.Opts) *tarantool.Connection {
	t.Helper()

	conn, err := tarantool.Connect(context.Background(), server, opts)
	if err != nil {
		t.Fatalf("Failed to connect: %s", err.Error())
	}
	if conn == nil {
		t.Fatalf("conn is nil after Connect")
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
