package tarantool

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ignoreStreamId = 0
	uint32Code     = 0xce
	uint64Code     = 0xcf
)

// Frame is a single decoded IPROTO packet.
type Frame struct {
	Header Header
	// Body is the whole packet body: the header map followed by the payload.
	Body []byte
	// Consumed is the number of body bytes taken by the header map.
	Consumed int
}

// Payload returns the part of the body after the header map.
func (f Frame) Payload() []byte {
	return f.Body[f.Consumed:]
}

// FrameDecoder splits a byte stream into frames. Input may be fed in chunks
// of any size, a frame is emitted as soon as its last byte arrives.
//
// The zero value is ready to use. FrameDecoder is not safe for concurrent
// use.
type FrameDecoder struct {
	// MaxPacketSize limits the body length of a packet, packets above it
	// fail with ErrProtocolError. DefaultMaxPacketSize is used if zero.
	MaxPacketSize uint32

	lenbuf  [packetLengthBytes]byte
	nlen    int
	body    []byte
	nbody   int
	inBody  bool
	dec     *msgpack.Decoder
	scratch smallBuf
}

// Feed consumes p and calls emit for every completed frame. Packets with
// zero body length produce no frame. A non-nil error from emit stops
// decoding and is returned as is.
func (d *FrameDecoder) Feed(p []byte, emit func(Frame) error) error {
	for len(p) > 0 {
		if !d.inBody {
			n := copy(d.lenbuf[d.nlen:], p)
			d.nlen += n
			p = p[n:]
			if d.nlen < packetLengthBytes {
				return nil
			}
			d.nlen = 0
			if d.lenbuf[0] != uint32Code {
				return ClientError{
					ErrProtocolError,
					fmt.Sprintf("wrong packet length prefix 0x%x", d.lenbuf[0]),
				}
			}
			length := binary.BigEndian.Uint32(d.lenbuf[1:])
			if length == 0 {
				continue
			}
			if limit := d.maxPacketSize(); length > limit {
				return ClientError{
					ErrProtocolError,
					fmt.Sprintf("packet length %d exceeds limit %d", length, limit),
				}
			}
			d.body = make([]byte, length)
			d.nbody = 0
			d.inBody = true
			continue
		}

		n := copy(d.body[d.nbody:], p)
		d.nbody += n
		p = p[n:]
		if d.nbody < len(d.body) {
			return nil
		}
		body := d.body
		d.body, d.inBody = nil, false

		frame, err := d.decodeFrame(body)
		if err != nil {
			return err
		}
		if err = emit(frame); err != nil {
			return err
		}
	}
	return nil
}

func (d *FrameDecoder) maxPacketSize() uint32 {
	if d.MaxPacketSize == 0 {
		return DefaultMaxPacketSize
	}
	return d.MaxPacketSize
}

func (d *FrameDecoder) decodeFrame(body []byte) (Frame, error) {
	if d.dec == nil {
		d.dec = msgpack.NewDecoder(&d.scratch)
	}
	d.scratch.Reset(body)
	header, err := decodeHeader(d.dec, &d.scratch)
	if err != nil {
		return Frame{}, ClientError{ErrProtocolError, "decode header: " + err.Error()}
	}
	return Frame{Header: header, Body: body, Consumed: d.scratch.Offset()}, nil
}

// DecodeFrame decodes a single complete packet body, without the length
// prefix.
func DecodeFrame(body []byte) (Frame, error) {
	var d FrameDecoder
	return d.decodeFrame(body)
}

func smallInt(d *msgpack.Decoder, buf *smallBuf) (i int, err error) {
	b, err := buf.ReadByte()
	if err != nil {
		return
	}
	if b <= 127 {
		return int(b), nil
	}
	buf.UnreadByte()
	return d.DecodeInt()
}

func decodeHeader(d *msgpack.Decoder, buf *smallBuf) (Header, error) {
	var l int
	var err error
	d.Reset(buf)
	if l, err = d.DecodeMapLen(); err != nil {
		return Header{}, err
	}
	decodedHeader := Header{Error: iproto.ER_UNKNOWN}
	for ; l > 0; l-- {
		var cd int
		if cd, err = smallInt(d, buf); err != nil {
			return Header{}, err
		}
		switch iproto.Key(cd) {
		case iproto.IPROTO_SYNC:
			var rid uint64
			if rid, err = d.DecodeUint64(); err != nil {
				return Header{}, err
			}
			decodedHeader.RequestId = uint32(rid)
		case iproto.IPROTO_REQUEST_TYPE:
			var rcode uint64
			if rcode, err = d.DecodeUint64(); err != nil {
				return Header{}, err
			}
			decodedHeader.Code = uint32(rcode)
		case iproto.IPROTO_SCHEMA_VERSION:
			if decodedHeader.SchemaVersion, err = d.DecodeUint64(); err != nil {
				return Header{}, err
			}
		case iproto.IPROTO_STREAM_ID:
			if decodedHeader.StreamId, err = d.DecodeUint64(); err != nil {
				return Header{}, err
			}
		default:
			if err = d.Skip(); err != nil {
				return Header{}, err
			}
		}
	}
	if decodedHeader.IsError() {
		decodedHeader.Error = iproto.Error(decodedHeader.Code &^ uint32(iproto.IPROTO_TYPE_ERROR))
	}
	return decodedHeader, nil
}

func pack(h *smallWBuf, enc *msgpack.Encoder, reqid uint32,
	req Request, streamId uint64) (err error) {
	const streamBytesLenUint64 = 10
	const streamBytesLenUint32 = 6

	hl := h.Len()

	var streamBytesLen = 0
	var streamBytes [streamBytesLenUint64]byte
	hMapLen := byte(0x82) // 2 element map.
	if streamId != ignoreStreamId {
		hMapLen = byte(0x83) // 3 element map.
		streamBytes[0] = byte(iproto.IPROTO_STREAM_ID)
		if streamId > math.MaxUint32 {
			streamBytesLen = streamBytesLenUint64
			streamBytes[1] = uint64Code
			binary.BigEndian.PutUint64(streamBytes[2:], streamId)
		} else {
			streamBytesLen = streamBytesLenUint32
			streamBytes[1] = uint32Code
			binary.BigEndian.PutUint32(streamBytes[2:], uint32(streamId))
		}
	}

	h.Write([]byte{
		uint32Code, 0, 0, 0, 0, // Length.
		hMapLen,
		byte(iproto.IPROTO_REQUEST_TYPE),
	})
	if err = enc.EncodeUint(uint64(req.Type())); err != nil {
		return
	}
	h.Write([]byte{
		byte(iproto.IPROTO_SYNC), uint32Code,
		byte(reqid >> 24), byte(reqid >> 16),
		byte(reqid >> 8), byte(reqid),
	})
	h.Write(streamBytes[:streamBytesLen])

	if err = req.Body(enc); err != nil {
		return
	}

	l := uint32(h.Len() - packetLengthBytes - hl)
	binary.BigEndian.PutUint32(h.b[hl+1:], l)

	return
}

// EncodeFrame writes a length-prefixed request packet with the given request
// id to w.
func EncodeFrame(w io.Writer, requestId uint32, req Request) error {
	return EncodeStreamFrame(w, requestId, ignoreStreamId, req)
}

// EncodeStreamFrame is like EncodeFrame but tags the packet with a stream id.
func EncodeStreamFrame(w io.Writer, requestId uint32, streamId uint64, req Request) error {
	var packet smallWBuf
	if err := pack(&packet, msgpack.NewEncoder(&packet), requestId, req, streamId); err != nil {
		return fmt.Errorf("pack error: %w", err)
	}
	return write(w, packet.b)
}

func write(w io.Writer, data []byte) error {
	l, err := w.Write(data)
	if err != nil {
		return err
	}
	if l != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

// frameStage is the steady-state inbound stage: it decodes frames and hands
// them to the correlator.
type frameStage struct {
	dec  FrameDecoder
	emit func(Frame) error
}

func (s *frameStage) consume(p []byte) ([]byte, bool, error) {
	return nil, false, s.dec.Feed(p, s.emit)
}
