package tarantool

import (
	"errors"
	"fmt"

	"github.com/tarantool/go-iproto"
)

// Error is wrapper around error returned by Tarantool.
type Error struct {
	Code iproto.Error
	Msg  string
	// ExtendedInfo is the error stack sent by servers that support
	// ErrorExtensionFeature.
	ExtendedInfo *BoxError
}

// Error converts an Error to a string.
func (tnterr Error) Error() string {
	if tnterr.ExtendedInfo != nil {
		return tnterr.ExtendedInfo.Error()
	}
	return fmt.Sprintf("%s (0x%x)", tnterr.Msg, uint32(tnterr.Code))
}

// ClientError is connection error produced by this client,
// i.e. connection failures or timeouts.
type ClientError struct {
	Code uint32
	Msg  string
}

// Error converts a ClientError to a string.
func (clierr ClientError) Error() string {
	return fmt.Sprintf("%s (0x%x)", clierr.Msg, clierr.Code)
}

// Is reports whether target is a ClientError with the same code, so
// errors.Is(err, ClientError{Code: ErrIdleTimeout}) matches any idle timeout.
func (clierr ClientError) Is(target error) bool {
	var t ClientError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == clierr.Code
}

// Temporary returns true if next attempt to perform request may succeeded.
//
// Currently it returns true when:
//
// - Connection is not connected at the moment
//
// - request is timeouted
//
// - connection was dropped because of read inactivity
func (clierr ClientError) Temporary() bool {
	switch clierr.Code {
	case ErrConnectionNotReady, ErrTimeouted, ErrIdleTimeout:
		return true
	default:
		return false
	}
}

// Tarantool client error codes.
const (
	ErrConnectionNotReady = 0x4000 + iota
	ErrConnectionClosed   = 0x4000 + iota
	ErrProtocolError      = 0x4000 + iota
	ErrTimeouted          = 0x4000 + iota
	ErrIdleTimeout        = 0x4000 + iota
	ErrBadGreeting        = 0x4000 + iota
)
