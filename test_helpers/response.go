package test_helpers

import (
	"bytes"
	"testing"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ice-blockchain/go-tarantool-client"
)

// MockResponse is a mock response used for testing purposes.
type MockResponse struct {
	// header contains response header
	header tarantool.Header
	// payload contains an encoded response body map.
	payload []byte
}

// NewMockResponse creates a new MockResponse with an empty header and the given data.
// data is encoded as the IPROTO_DATA entry of the response body.
func NewMockResponse(t *testing.T, data interface{}) *MockResponse {
	t.Helper()

	buf := bytes.NewBuffer([]byte{})
	enc := msgpack.NewEncoder(buf)

	err := enc.Encode(map[iproto.Key]interface{}{iproto.IPROTO_DATA: data})
	if err != nil {
		t.Errorf("unexpected error while encoding: %s", err)
	}

	return &MockResponse{payload: buf.Bytes()}
}

// NewMockErrorResponse creates a MockResponse carrying a server error.
func NewMockErrorResponse(t *testing.T, code iproto.Error, msg string) *MockResponse {
	t.Helper()

	buf := bytes.NewBuffer([]byte{})
	enc := msgpack.NewEncoder(buf)

	err := enc.Encode(map[iproto.Key]interface{}{iproto.IPROTO_ERROR_24: msg})
	if err != nil {
		t.Errorf("unexpected error while encoding: %s", err)
	}

	header := tarantool.Header{
		Code:  uint32(iproto.IPROTO_TYPE_ERROR) | uint32(code),
		Error: code,
	}
	return &MockResponse{header: header, payload: buf.Bytes()}
}

// Header returns a header for the MockResponse.
func (resp *MockResponse) Header() tarantool.Header {
	return resp.header
}

// Payload returns the encoded body of the MockResponse.
func (resp *MockResponse) Payload() []byte {
	return resp.payload
}
