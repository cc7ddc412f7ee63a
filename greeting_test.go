package tarantool_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func TestParseGreeting(t *testing.T) {
	id := uuid.New()
	greeting, err := ParseGreeting(test_helpers.NewGreeting("2.11.1", id))
	require.NoError(t, err)

	assert.Equal(t, "Tarantool 2.11.1 (Binary) "+id.String(), greeting.Version)
	assert.Equal(t, "2.11.1", greeting.ServerVersion)
	assert.Equal(t, "Binary", greeting.Protocol)
	assert.Equal(t, id, greeting.InstanceUUID)
	assert.Len(t, greeting.Salt, 44)
}

func TestParseGreeting_Malformed(t *testing.T) {
	valid := test_helpers.NewGreeting("2.11.1", uuid.New())
	replace := func(off int, b ...byte) []byte {
		data := bytes.Clone(valid)
		copy(data[off:], b)
		return data
	}
	line := func(s string) []byte {
		return append([]byte(s), bytes.Repeat([]byte(" "), 63-len(s))...)
	}

	cases := map[string][]byte{
		"short":          valid[:127],
		"long":           append(bytes.Clone(valid), ' '),
		"empty":          {},
		"no newline":     replace(63, ' '),
		"no salt end":    replace(127, ' '),
		"non-printable":  replace(10, 0x01),
		"wrong identity": replace(0, []byte("HTTP/1.1 ")...),
		"bad protocol":   append(append(line("Tarantool 2.11.1 Binary"), '\n'), valid[64:]...),
		"bad uuid":       append(append(line("Tarantool 2.11.1 (Binary) not-a-uuid"), '\n'), valid[64:]...),
		"bad salt":       append(bytes.Clone(valid[:64]), append(line("!!!!"), '\n')...),
		"short salt":     append(bytes.Clone(valid[:64]), append(line("AAAA"), '\n')...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGreeting(data)
			assert.ErrorIs(t, err, ClientError{Code: ErrBadGreeting})
		})
	}
}

func TestParseGreeting_NoUuid(t *testing.T) {
	data := test_helpers.NewGreeting("1.6.9", uuid.Nil)
	copy(data, append([]byte("Tarantool 1.6.9 (Binary)"), bytes.Repeat([]byte(" "), 39)...))

	greeting, err := ParseGreeting(data)
	require.NoError(t, err)
	assert.Equal(t, "1.6.9", greeting.ServerVersion)
	assert.Equal(t, uuid.Nil, greeting.InstanceUUID)
}

func TestGreetingPipeline_Chunked(t *testing.T) {
	id := uuid.New()
	greeting := test_helpers.NewGreeting("3.0.0", id)
	packet, err := test_helpers.EncodeReply(1, test_helpers.OkReply([]interface{}{"ok"}))
	require.NoError(t, err)
	stream := append(bytes.Clone(greeting), packet...)

	for name, chunks := range map[string][][]byte{
		"together":     {stream},
		"byte-at-time": byteChunks(stream),
		"boundary":     {stream[:127], stream[127:129], stream[129:]},
	} {
		t.Run(name, func(t *testing.T) {
			parsed, frames, err := FeedGreeting(chunks)
			require.NoError(t, err)
			assert.Equal(t, id, parsed.InstanceUUID)
			assert.Equal(t, "3.0.0", parsed.ServerVersion)
			require.Len(t, frames, 1)
			assert.Equal(t, uint32(1), frames[0].Header.RequestId)
		})
	}
}

func TestGreetingPipeline_BadGreeting(t *testing.T) {
	data := bytes.Repeat([]byte{0}, GreetingSize)
	_, _, err := FeedGreeting([][]byte{data})
	assert.ErrorIs(t, err, ClientError{Code: ErrBadGreeting})
}
