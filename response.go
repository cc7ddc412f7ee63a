package tarantool

import (
	"fmt"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// Response is a server response to a request. The payload is kept raw until
// Decode or DecodeTyped is called.
type Response struct {
	header  Header
	payload []byte
}

// NewResponse creates a response from a decoded frame.
func NewResponse(frame Frame) *Response {
	return &Response{header: frame.Header, payload: frame.Payload()}
}

// Header returns a response header.
func (resp *Response) Header() Header {
	return resp.header
}

// Payload returns the raw msgpack payload that follows the header.
func (resp *Response) Payload() []byte {
	return resp.payload
}

type decodeInfo struct {
	decodedError string
	extendedInfo *BoxError
}

// decodeBody walks over the payload map and calls field for every key.
// field reports whether it consumed the value, otherwise the value is
// skipped.
func (resp *Response) decodeBody(field func(d *msgpack.Decoder, cd int) (bool, error)) error {
	if len(resp.payload) == 0 {
		return resp.checkError(&decodeInfo{})
	}

	var err error
	var l int
	buf := smallBuf{b: resp.payload}
	info := &decodeInfo{}

	d := msgpack.NewDecoder(&buf)
	d.SetMapDecoder(func(dec *msgpack.Decoder) (interface{}, error) {
		return dec.DecodeUntypedMap()
	})

	if l, err = d.DecodeMapLen(); err != nil {
		return err
	}
	for ; l > 0; l-- {
		var cd int
		if cd, err = smallInt(d, &buf); err != nil {
			return err
		}
		decoded := false
		if iproto.Key(cd) == iproto.IPROTO_ERROR_24 {
			if info.decodedError, err = d.DecodeString(); err != nil {
				return err
			}
			decoded = true
		} else if iproto.Key(cd) == iproto.IPROTO_ERROR {
			if info.extendedInfo, err = decodeBoxError(d); err != nil {
				return err
			}
			decoded = true
		} else if decoded, err = field(d, cd); err != nil {
			return err
		}
		if !decoded {
			if err = d.Skip(); err != nil {
				return err
			}
		}
	}
	return resp.checkError(info)
}

func (resp *Response) checkError(info *decodeInfo) error {
	if !resp.header.IsError() {
		return nil
	}
	msg := info.decodedError
	if msg == "" && info.extendedInfo != nil {
		msg = info.extendedInfo.Msg
	}
	if msg == "" {
		msg = "unknown server error"
	}
	return Error{resp.header.Error, msg, info.extendedInfo}
}

// Decode decodes IPROTO_DATA of the response into a slice of untyped
// values. A server error is returned as Error.
func (resp *Response) Decode() ([]interface{}, error) {
	var data []interface{}
	err := resp.decodeBody(func(d *msgpack.Decoder, cd int) (bool, error) {
		if iproto.Key(cd) != iproto.IPROTO_DATA {
			return false, nil
		}
		res, err := d.DecodeInterface()
		if err != nil {
			return false, err
		}
		var ok bool
		if data, ok = res.([]interface{}); !ok {
			return false, fmt.Errorf("result is not array: %v", res)
		}
		return true, nil
	})
	return data, err
}

// DecodeTyped decodes IPROTO_DATA of the response into res.
func (resp *Response) DecodeTyped(res interface{}) error {
	return resp.decodeBody(func(d *msgpack.Decoder, cd int) (bool, error) {
		if iproto.Key(cd) != iproto.IPROTO_DATA {
			return false, nil
		}
		return true, d.Decode(res)
	})
}

// Err returns a server error carried by the response, if any.
func (resp *Response) Err() error {
	return resp.decodeBody(func(*msgpack.Decoder, int) (bool, error) {
		return false, nil
	})
}

// String implements Stringer interface.
func (resp *Response) String() string {
	if resp.header.IsError() {
		return fmt.Sprintf("<%d ERR %s>", resp.header.RequestId, resp.header.Error)
	}
	return fmt.Sprintf("<%d OK %d bytes>", resp.header.RequestId, len(resp.payload))
}
