package tarantool

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// errorExtID is the MP_EXT type of MP_ERROR values.
const errorExtID = 3

const (
	keyErrorStack   = 0x00
	keyErrorType    = 0x00
	keyErrorFile    = 0x01
	keyErrorLine    = 0x02
	keyErrorMessage = 0x03
	keyErrorErrno   = 0x04
	keyErrorErrcode = 0x05
	keyErrorFields  = 0x06
)

func init() {
	msgpack.RegisterExt(errorExtID, (*BoxError)(nil))
}

// BoxError is a single entry of a server error stack with a link to the
// previous entry. Servers send it in IPROTO_ERROR of error responses and as
// MP_ERROR values in data.
type BoxError struct {
	// Type is error type that implies its source (for example, "ClientError").
	Type string
	// File is a source code file where the error was caught.
	File string
	// Line is a number of line in the source code file where the error was caught.
	Line uint64
	// Msg is the text of reason.
	Msg string
	// Errno is the ordinal number of the error.
	Errno uint64
	// Code is the number of the error as defined in `errcode.h`.
	Code uint64
	// Fields are additional fields depending on error type.
	Fields map[string]interface{}
	// Prev is the previous error in stack.
	Prev *BoxError
}

// Error converts a BoxError to a string.
func (e *BoxError) Error() string {
	s := fmt.Sprintf("%s (%s, code 0x%x), see %s line %d",
		e.Msg, e.Type, e.Code, e.File, e.Line)

	if e.Prev != nil {
		return fmt.Sprintf("%s: %s", s, e.Prev)
	}

	return s
}

// Depth computes the count of errors in stack, including the current one.
func (e *BoxError) Depth() int {
	depth := 0
	for cur := e; cur != nil; cur = cur.Prev {
		depth++
	}
	return depth
}

func decodeBoxError(d *msgpack.Decoder) (*BoxError, error) {
	l, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}

	var stack []BoxError
	for ; l > 0; l-- {
		var cd int
		if cd, err = d.DecodeInt(); err != nil {
			return nil, err
		}
		if cd != keyErrorStack {
			if err = d.Skip(); err != nil {
				return nil, err
			}
			continue
		}

		var n int
		if n, err = d.DecodeArrayLen(); err != nil {
			return nil, err
		}
		stack = make([]BoxError, n)
		for i := range stack {
			if err = decodeBoxErrorEntry(d, &stack[i]); err != nil {
				return nil, err
			}
			if i > 0 {
				stack[i-1].Prev = &stack[i]
			}
		}
	}

	if len(stack) == 0 {
		return nil, fmt.Errorf("msgpack: unexpected empty BoxError stack on decode")
	}
	return &stack[0], nil
}

func decodeBoxErrorEntry(d *msgpack.Decoder, e *BoxError) error {
	l, err := d.DecodeMapLen()
	if err != nil {
		return err
	}
	for ; l > 0; l-- {
		var cd int
		if cd, err = d.DecodeInt(); err != nil {
			return err
		}
		switch cd {
		case keyErrorType:
			e.Type, err = d.DecodeString()
		case keyErrorFile:
			e.File, err = d.DecodeString()
		case keyErrorLine:
			e.Line, err = d.DecodeUint64()
		case keyErrorMessage:
			e.Msg, err = d.DecodeString()
		case keyErrorErrno:
			e.Errno, err = d.DecodeUint64()
		case keyErrorErrcode:
			e.Code, err = d.DecodeUint64()
		case keyErrorFields:
			e.Fields, err = decodeErrorFields(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeErrorFields(d *msgpack.Decoder) (map[string]interface{}, error) {
	l, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{}, l)
	for ; l > 0; l-- {
		var k string
		if k, err = d.DecodeString(); err != nil {
			return nil, err
		}
		if fields[k], err = d.DecodeInterface(); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func encodeBoxError(enc *msgpack.Encoder, e *BoxError) error {
	if e == nil {
		return fmt.Errorf("msgpack: unexpected nil BoxError on encode")
	}

	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeUint(keyErrorStack); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(e.Depth()); err != nil {
		return err
	}

	for ; e != nil; e = e.Prev {
		fieldsLen := 6
		if len(e.Fields) > 0 {
			fieldsLen++
		}
		if err := enc.EncodeMapLen(fieldsLen); err != nil {
			return err
		}

		if err := enc.EncodeUint(keyErrorType); err != nil {
			return err
		}
		if err := enc.EncodeString(e.Type); err != nil {
			return err
		}
		if err := enc.EncodeUint(keyErrorFile); err != nil {
			return err
		}
		if err := enc.EncodeString(e.File); err != nil {
			return err
		}
		if err := enc.EncodeUint(keyErrorLine); err != nil {
			return err
		}
		if err := enc.EncodeUint(e.Line); err != nil {
			return err
		}
		if err := enc.EncodeUint(keyErrorMessage); err != nil {
			return err
		}
		if err := enc.EncodeString(e.Msg); err != nil {
			return err
		}
		if err := enc.EncodeUint(keyErrorErrno); err != nil {
			return err
		}
		if err := enc.EncodeUint(e.Errno); err != nil {
			return err
		}
		if err := enc.EncodeUint(keyErrorErrcode); err != nil {
			return err
		}
		if err := enc.EncodeUint(e.Code); err != nil {
			return err
		}

		if len(e.Fields) > 0 {
			if err := enc.EncodeUint(keyErrorFields); err != nil {
				return err
			}
			if err := enc.EncodeMapLen(len(e.Fields)); err != nil {
				return err
			}
			for k, v := range e.Fields {
				if err := enc.EncodeString(k); err != nil {
					return err
				}
				if err := enc.Encode(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// MarshalMsgpack serializes the BoxError into a MessagePack representation.
func (e *BoxError) MarshalMsgpack() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeBoxError(msgpack.NewEncoder(&buf), e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMsgpack deserializes a BoxError value from a MessagePack
// representation.
func (e *BoxError) UnmarshalMsgpack(b []byte) error {
	if e == nil {
		panic("cannot unmarshal to a nil pointer")
	}

	val, err := decodeBoxError(msgpack.NewDecoder(bytes.NewReader(b)))
	if err != nil {
		return err
	}
	*e = *val
	return nil
}
