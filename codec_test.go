package tarantool_test

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func feedAll(t *testing.T, chunks [][]byte) []Frame {
	t.Helper()

	var dec FrameDecoder
	var frames []Frame
	for _, chunk := range chunks {
		err := dec.Feed(chunk, func(f Frame) error {
			frames = append(frames, f)
			return nil
		})
		require.NoError(t, err)
	}
	return frames
}

func byteChunks(data []byte) [][]byte {
	chunks := make([][]byte, len(data))
	for i := range data {
		chunks[i] = data[i : i+1]
	}
	return chunks
}

func TestFrameDecoder_Replies(t *testing.T) {
	for _, size := range []int{0, 1, 1024} {
		value := strings.Repeat("x", size)
		packet, err := test_helpers.EncodeReply(42, test_helpers.OkReply([]interface{}{value}))
		require.NoError(t, err)

		for name, chunks := range map[string][][]byte{
			"whole":         {packet},
			"byte-at-time":  byteChunks(packet),
			"split-prefix":  {packet[:3], packet[3:]},
			"split-payload": {packet[:len(packet)-1], packet[len(packet)-1:]},
		} {
			frames := feedAll(t, chunks)
			require.Len(t, frames, 1, "%d bytes, %s", size, name)

			frame := frames[0]
			assert.Equal(t, uint32(42), frame.Header.RequestId)
			assert.Equal(t, uint32(iproto.IPROTO_OK), frame.Header.Code)
			assert.Equal(t, uint64(1), frame.Header.SchemaVersion)
			assert.False(t, frame.Header.IsError())

			data, err := NewResponse(frame).Decode()
			require.NoError(t, err)
			assert.Equal(t, []interface{}{value}, data)
		}
	}
}

func TestFrameDecoder_SeveralFramesInOneChunk(t *testing.T) {
	var stream []byte
	for i := uint32(1); i <= 3; i++ {
		packet, err := test_helpers.EncodeReply(i, test_helpers.OkReply(nil))
		require.NoError(t, err)
		stream = append(stream, packet...)
	}

	frames := feedAll(t, [][]byte{stream})
	require.Len(t, frames, 3)
	for i, frame := range frames {
		assert.Equal(t, uint32(i+1), frame.Header.RequestId)
	}
}

func TestFrameDecoder_RandomChunks(t *testing.T) {
	var stream []byte
	for i := uint32(1); i <= 20; i++ {
		value := strings.Repeat("v", int(i*37))
		packet, err := test_helpers.EncodeReply(i, test_helpers.OkReply([]interface{}{value}))
		require.NoError(t, err)
		stream = append(stream, packet...)
		if i%5 == 0 {
			stream = append(stream, 0xce, 0, 0, 0, 0)
		}
	}
	whole := feedAll(t, [][]byte{stream})
	require.Len(t, whole, 20)

	rnd := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		var chunks [][]byte
		for rest := stream; len(rest) > 0; {
			n := 1 + rnd.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		frames := feedAll(t, chunks)
		require.Len(t, frames, len(whole), "round %d", round)
		for i := range whole {
			assert.Equal(t, whole[i].Header, frames[i].Header, "round %d", round)
			assert.Equal(t, whole[i].Payload(), frames[i].Payload(), "round %d", round)
		}
	}
}

func TestFrameDecoder_PacketTooLarge(t *testing.T) {
	dec := FrameDecoder{MaxPacketSize: 16}
	err := dec.Feed([]byte{0xce, 0, 0, 0, 17}, func(Frame) error {
		t.Fatal("unexpected frame")
		return nil
	})
	assert.ErrorIs(t, err, ClientError{Code: ErrProtocolError})

	var defaults FrameDecoder
	err = defaults.Feed([]byte{0xce, 0xff, 0xff, 0xff, 0xff}, func(Frame) error {
		t.Fatal("unexpected frame")
		return nil
	})
	assert.ErrorIs(t, err, ClientError{Code: ErrProtocolError})
}

func TestFrameDecoder_SkipsEmptyPackets(t *testing.T) {
	packet, err := test_helpers.EncodeReply(7, test_helpers.OkReply(nil))
	require.NoError(t, err)
	stream := append([]byte{0xce, 0, 0, 0, 0}, packet...)

	frames := feedAll(t, byteChunks(stream))
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(7), frames[0].Header.RequestId)
}

func TestFrameDecoder_WrongPrefix(t *testing.T) {
	var dec FrameDecoder
	err := dec.Feed([]byte{0xcf, 0, 0, 0, 0, 0, 0, 0, 1}, func(Frame) error {
		t.Fatal("unexpected frame")
		return nil
	})
	assert.ErrorIs(t, err, ClientError{Code: ErrProtocolError})
}

func TestFrameDecoder_ErrorFrame(t *testing.T) {
	packet, err := test_helpers.EncodeReply(5,
		test_helpers.ErrorReply(iproto.ER_NO_SUCH_PROC, "Procedure 'f' is not defined"))
	require.NoError(t, err)

	frames := feedAll(t, [][]byte{packet})
	require.Len(t, frames, 1)
	header := frames[0].Header
	assert.True(t, header.IsError())
	assert.Equal(t, iproto.ER_NO_SUCH_PROC, header.Error)

	err = NewResponse(frames[0]).Err()
	var tntErr Error
	require.ErrorAs(t, err, &tntErr)
	assert.Equal(t, iproto.ER_NO_SUCH_PROC, tntErr.Code)
	assert.Equal(t, "Procedure 'f' is not defined", tntErr.Msg)
}

func TestEncodeFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, 0xdeadbeef, NewPingRequest()))

	packet := buf.Bytes()
	require.Greater(t, len(packet), 5)
	assert.Equal(t, byte(0xce), packet[0])

	frames := feedAll(t, [][]byte{packet})
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0xdeadbeef), frames[0].Header.RequestId)
	assert.Equal(t, uint32(iproto.IPROTO_PING), frames[0].Header.Code)
	assert.Equal(t, uint64(0), frames[0].Header.StreamId)
	assert.Equal(t, []byte{0x80}, frames[0].Payload())
}

func TestEncodeStreamFrame(t *testing.T) {
	for _, streamId := range []uint64{1, 1 << 40} {
		var buf bytes.Buffer
		require.NoError(t, EncodeStreamFrame(&buf, 3, streamId, NewCommitRequest()))

		frames := feedAll(t, [][]byte{buf.Bytes()})
		require.Len(t, frames, 1)
		assert.Equal(t, streamId, frames[0].Header.StreamId)
		assert.Equal(t, uint32(iproto.IPROTO_COMMIT), frames[0].Header.Code)
	}
}

func TestDecodeFrame(t *testing.T) {
	var buf bytes.Buffer
	req := NewCallRequest("echo").Args([]interface{}{"a", 1})
	require.NoError(t, EncodeFrame(&buf, 9, req))

	frame, err := DecodeFrame(buf.Bytes()[5:])
	require.NoError(t, err)
	assert.Equal(t, uint32(9), frame.Header.RequestId)
	assert.Equal(t, uint32(iproto.IPROTO_CALL), frame.Header.Code)

	var body map[int]interface{}
	require.NoError(t, msgpack.Unmarshal(frame.Payload(), &body))
	assert.Equal(t, "echo", body[int(iproto.IPROTO_FUNCTION_NAME)])
	assert.Equal(t, []interface{}{"a", int8(1)}, body[int(iproto.IPROTO_TUPLE)])

	_, err = DecodeFrame([]byte{0xc1})
	assert.ErrorIs(t, err, ClientError{Code: ErrProtocolError})
}

func TestRawRequest(t *testing.T) {
	body, err := msgpack.Marshal(map[iproto.Key]interface{}{
		iproto.IPROTO_EXPR: "return 1",
		iproto.IPROTO_TUPLE: []interface{}{},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, 1, NewRawRequest(iproto.IPROTO_EVAL, body)))
	frames := feedAll(t, [][]byte{buf.Bytes()})
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(iproto.IPROTO_EVAL), frames[0].Header.Code)
	assert.Equal(t, body, frames[0].Payload())

	buf.Reset()
	assert.Error(t, EncodeFrame(&buf, 1, NewRawRequest(iproto.IPROTO_EVAL, nil)))
	assert.Zero(t, buf.Len())
}
