package tarantool

import (
	"errors"
	"io"
)

type smallBuf struct {
	b []byte
	p int
}

func (s *smallBuf) Read(d []byte) (l int, err error) {
	l = len(s.b) - s.p
	if l == 0 && len(d) > 0 {
		return 0, io.EOF
	}
	if l > len(d) {
		l = len(d)
	}
	copy(d, s.b[s.p:])
	s.p += l
	return l, nil
}

func (s *smallBuf) ReadByte() (b byte, err error) {
	if s.p == len(s.b) {
		return 0, io.EOF
	}
	b = s.b[s.p]
	s.p++
	return b, nil
}

func (s *smallBuf) UnreadByte() error {
	if s.p == 0 {
		return errors.New("could not unread")
	}
	s.p--
	return nil
}

func (s *smallBuf) Len() int {
	return len(s.b) - s.p
}

func (s *smallBuf) Bytes() []byte {
	if len(s.b) > s.p {
		return s.b[s.p:]
	}
	return nil
}

// Offset returns the number of bytes already read from the buffer.
func (s *smallBuf) Offset() int {
	return s.p
}

func (s *smallBuf) Reset(b []byte) {
	s.b = b
	s.p = 0
}

type smallWBuf struct {
	b []byte
}

func (s *smallWBuf) Write(b []byte) (int, error) {
	s.b = append(s.b, b...)
	return len(b), nil
}

func (s *smallWBuf) WriteByte(b byte) error {
	s.b = append(s.b, b)
	return nil
}

func (s *smallWBuf) WriteString(str string) (int, error) {
	s.b = append(s.b, str...)
	return len(str), nil
}

func (s smallWBuf) Len() int {
	return len(s.b)
}

func (s smallWBuf) Cap() int {
	return cap(s.b)
}

func (s *smallWBuf) Trunc(n int) {
	s.b = s.b[:n]
}

func (s *smallWBuf) Reset() {
	s.b = s.b[:0]
}
