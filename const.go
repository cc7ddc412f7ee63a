package tarantool

import (
	"time"

	"github.com/tarantool/go-iproto"
)

const (
	packetLengthBytes = 5
	// GreetingSize is the size of the server greeting sent on connect.
	GreetingSize = 128
	// DefaultMaxPacketSize is the default limit of an inbound packet body.
	DefaultMaxPacketSize = 128 * 1024 * 1024
)

const (
	greetingLineSize = 64
	greetingSaltSize = 44
)

const (
	OkCode   = uint32(iproto.IPROTO_OK)
	PushCode = uint32(iproto.IPROTO_CHUNK)
)

const (
	readBufferSize = 64 * 1024

	defaultConnectTimeout = 5 * time.Second
	minIdleTick           = time.Millisecond
)
