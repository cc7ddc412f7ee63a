package tarantool

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
)

const (
	chapSha1  = "chap-sha1"
	papSha256 = "pap-sha256"

	scrambleSize = sha1.Size
)

// Auth is used as a parameter to set up an authentication method.
type Auth int

const (
	// AutoAuth does not force any authentication method. A method will be
	// selected automatically (a value from IPROTO_ID response or
	// ChapSha1Auth).
	AutoAuth Auth = iota
	// ChapSha1Auth forces chap-sha1 authentication method.
	ChapSha1Auth
	// PapSha256Auth forces pap-sha256 authentication method.
	PapSha256Auth
)

// String returns a string representation of an authentication method.
func (a Auth) String() string {
	switch a {
	case AutoAuth:
		return "auto"
	case ChapSha1Auth:
		return chapSha1
	case PapSha256Auth:
		return papSha256
	default:
		return fmt.Sprintf("unknown auth type (code %d)", a)
	}
}

func parseAuth(name string) Auth {
	switch name {
	case chapSha1:
		return ChapSha1Auth
	case papSha256:
		return PapSha256Auth
	default:
		return AutoAuth
	}
}

// scramble computes the chap-sha1 response for the greeting salt:
// sha1(password) XOR sha1(salt[:20], sha1(sha1(password))).
func scramble(encodedSalt, pass string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return nil, err
	}
	if len(salt) < scrambleSize {
		return nil, fmt.Errorf("salt is too short: %d bytes", len(salt))
	}

	step1 := sha1.Sum([]byte(pass))
	step2 := sha1.Sum(step1[:])
	hash := sha1.New()
	hash.Write(salt[:scrambleSize])
	hash.Write(step2[:])
	step3 := hash.Sum(nil)

	scr := make([]byte, scrambleSize)
	for i := range scr {
		scr[i] = step1[i] ^ step3[i]
	}
	return scr, nil
}
