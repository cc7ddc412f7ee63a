package tarantool

import "github.com/tarantool/go-iproto"

// Header is a frame header.
type Header struct {
	// RequestId is an id of a corresponding request (IPROTO_SYNC).
	RequestId uint32
	// Code is a request type for requests and a response status for
	// responses. For error responses it has iproto.IPROTO_TYPE_ERROR set.
	Code uint32
	// SchemaVersion is the server schema version, 0 if absent.
	SchemaVersion uint64
	// StreamId is a stream the frame belongs to, 0 if absent.
	StreamId uint64
	// Error is a response error. It could be used
	// to check that response has or hasn't an error without decoding.
	// Error == iproto.ER_UNKNOWN if there is no error.
	Error iproto.Error
}

// IsError reports whether the header belongs to an error response.
func (h Header) IsError() bool {
	return h.Code&uint32(iproto.IPROTO_TYPE_ERROR) != 0
}
