package tarantool

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const greetingIdentityPrefix = "Tarantool "

// Greeting is a message sent by Tarantool on connect.
type Greeting struct {
	// Version is the server identity line, i.e. "Tarantool 2.11.1 (Binary) <uuid>".
	Version string
	// ServerVersion is the bare server version, i.e. "2.11.1".
	ServerVersion string
	// Protocol is the protocol name from the identity line, i.e. "Binary".
	Protocol string
	// InstanceUUID is the server instance UUID, uuid.Nil if not advertised.
	InstanceUUID uuid.UUID
	// Salt is the base64 encoded salt used for authentication.
	Salt string
}

func badGreeting(format string, args ...interface{}) error {
	return ClientError{ErrBadGreeting, "bad greeting: " + fmt.Sprintf(format, args...)}
}

// ParseGreeting parses a server greeting. The data must be exactly
// GreetingSize bytes long: an identity line and a salt line, 64 bytes each
// and terminated by '\n'.
func ParseGreeting(data []byte) (Greeting, error) {
	if len(data) != GreetingSize {
		return Greeting{}, badGreeting("expected %d bytes, got %d", GreetingSize, len(data))
	}
	identity, saltLine := data[:greetingLineSize], data[greetingLineSize:]
	if identity[greetingLineSize-1] != '\n' || saltLine[greetingLineSize-1] != '\n' {
		return Greeting{}, badGreeting("lines are not terminated")
	}
	for i, b := range data {
		if b == '\n' && (i == greetingLineSize-1 || i == GreetingSize-1) {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return Greeting{}, badGreeting("non-printable byte 0x%x at %d", b, i)
		}
	}

	var greeting Greeting
	greeting.Version = strings.TrimRight(string(identity[:greetingLineSize-1]), " ")
	if !strings.HasPrefix(greeting.Version, greetingIdentityPrefix) {
		return Greeting{}, badGreeting("unexpected identity %q", greeting.Version)
	}
	fields := strings.Fields(greeting.Version)
	if len(fields) < 2 {
		return Greeting{}, badGreeting("no server version")
	}
	greeting.ServerVersion = fields[1]
	if len(fields) > 2 {
		proto := fields[2]
		if len(proto) < 3 || proto[0] != '(' || proto[len(proto)-1] != ')' {
			return Greeting{}, badGreeting("unexpected protocol %q", proto)
		}
		greeting.Protocol = proto[1 : len(proto)-1]
	}
	if len(fields) > 3 {
		id, err := uuid.Parse(fields[3])
		if err != nil {
			return Greeting{}, badGreeting("instance uuid: %s", err)
		}
		greeting.InstanceUUID = id
	}

	greeting.Salt = string(saltLine[:greetingSaltSize])
	salt, err := base64.StdEncoding.DecodeString(greeting.Salt)
	if err != nil {
		return Greeting{}, badGreeting("salt: %s", err)
	}
	if len(salt) < scrambleSize {
		return Greeting{}, badGreeting("salt is too short: %d bytes", len(salt))
	}
	return greeting, nil
}

// greetingStage is the first inbound stage of a connection. It accumulates
// exactly GreetingSize bytes, parses them and leaves the pipeline.
type greetingStage struct {
	buf        []byte
	onGreeting func(Greeting)
}

func newGreetingStage(onGreeting func(Greeting)) *greetingStage {
	return &greetingStage{
		buf:        make([]byte, 0, GreetingSize),
		onGreeting: onGreeting,
	}
}

func (s *greetingStage) consume(p []byte) ([]byte, bool, error) {
	need := GreetingSize - len(s.buf)
	if len(p) < need {
		s.buf = append(s.buf, p...)
		return nil, false, nil
	}
	s.buf = append(s.buf, p[:need]...)
	greeting, err := ParseGreeting(s.buf)
	if err != nil {
		return nil, false, err
	}
	s.onGreeting(greeting)
	return p[need:], true, nil
}
