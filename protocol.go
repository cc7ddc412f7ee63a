package tarantool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tarantool/go-iproto"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidFeature is returned for a protocol feature ordinal outside of
// the known features.
var ErrInvalidFeature = errors.New("invalid protocol feature")

// ProtocolVersion type stores Tarantool protocol version.
type ProtocolVersion uint64

// ProtocolFeature type stores a Tarantool protocol feature.
type ProtocolFeature uint64

// ProtocolInfo type aggregates Tarantool protocol version and features info.
type ProtocolInfo struct {
	// Auth is an authentication method.
	Auth Auth
	// Version is the supported protocol version.
	Version ProtocolVersion
	// Features are supported protocol features.
	Features []ProtocolFeature
}

// Clone returns an exact copy of the ProtocolInfo object.
// Any changes in copy will not affect the original values.
func (info ProtocolInfo) Clone() ProtocolInfo {
	infoCopy := info

	if info.Features != nil {
		infoCopy.Features = make([]ProtocolFeature, len(info.Features))
		copy(infoCopy.Features, info.Features)
	}

	return infoCopy
}

// Has reports whether the feature is in the list.
func (info ProtocolInfo) Has(feature ProtocolFeature) bool {
	for _, f := range info.Features {
		if f == feature {
			return true
		}
	}
	return false
}

const (
	// StreamsFeature represents streams support.
	StreamsFeature ProtocolFeature = iota
	// TransactionsFeature represents interactive transactions support.
	TransactionsFeature
	// ErrorExtensionFeature represents support of MP_ERROR objects over
	// MessagePack.
	ErrorExtensionFeature
	// WatchersFeature represents support of watchers.
	WatchersFeature
	// PaginationFeature represents support of pagination.
	PaginationFeature

	featureCount
)

// ProtocolFeatureFromOrdinal returns the feature with the given ordinal.
// Every ordinal in [0, number of features) is valid, anything else is
// ErrInvalidFeature.
func ProtocolFeatureFromOrdinal(ordinal int) (ProtocolFeature, error) {
	if ordinal < 0 || ordinal >= int(featureCount) {
		return 0, fmt.Errorf("%w: ordinal %d, expected [0, %d)",
			ErrInvalidFeature, ordinal, featureCount)
	}
	return ProtocolFeature(ordinal), nil
}

// ProtocolFeatures returns all known features in ordinal order.
func ProtocolFeatures() []ProtocolFeature {
	features := make([]ProtocolFeature, featureCount)
	for i := range features {
		features[i] = ProtocolFeature(i)
	}
	return features
}

// String returns the name of a Tarantool feature.
// If value X is not a known feature, returns "Unknown feature (code X)" string.
func (ftr ProtocolFeature) String() string {
	switch ftr {
	case StreamsFeature:
		return "StreamsFeature"
	case TransactionsFeature:
		return "TransactionsFeature"
	case ErrorExtensionFeature:
		return "ErrorExtensionFeature"
	case WatchersFeature:
		return "WatchersFeature"
	case PaginationFeature:
		return "PaginationFeature"
	default:
		return fmt.Sprintf("Unknown feature (code %d)", ftr)
	}
}

var clientProtocolInfo ProtocolInfo = ProtocolInfo{
	// Version 4 was introduced in Tarantool 2.11.0 together with
	// pagination.
	Version:  ProtocolVersion(4),
	Features: ProtocolFeatures(),
}

// IdRequest informs the server about supported protocol
// version and protocol features.
type IdRequest struct {
	baseRequest
	protocolInfo ProtocolInfo
}

// NewIdRequest returns a new IdRequest.
func NewIdRequest(protocolInfo ProtocolInfo) *IdRequest {
	req := new(IdRequest)
	req.rtype = iproto.IPROTO_ID
	req.protocolInfo = protocolInfo.Clone()
	return req
}

// Body fills an encoder with the id request body.
func (req *IdRequest) Body(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}

	if err := enc.EncodeUint(uint64(iproto.IPROTO_VERSION)); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(req.protocolInfo.Version)); err != nil {
		return err
	}

	if err := enc.EncodeUint(uint64(iproto.IPROTO_FEATURES)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(req.protocolInfo.Features)); err != nil {
		return err
	}
	for _, feature := range req.protocolInfo.Features {
		if err := enc.EncodeUint(uint64(feature)); err != nil {
			return err
		}
	}

	return nil
}

// Context sets a passed context to the request.
func (req *IdRequest) Context(ctx context.Context) *IdRequest {
	req.ctx = ctx
	return req
}

// DecodeProtocolInfo decodes the payload of an IPROTO_ID response. Features
// the client does not know are dropped.
func DecodeProtocolInfo(resp *Response) (ProtocolInfo, error) {
	var info ProtocolInfo
	var hasVersion bool
	err := resp.decodeBody(func(d *msgpack.Decoder, cd int) (bool, error) {
		switch iproto.Key(cd) {
		case iproto.IPROTO_VERSION:
			version, err := d.DecodeUint64()
			if err != nil {
				return false, err
			}
			info.Version, hasVersion = ProtocolVersion(version), true
		case iproto.IPROTO_FEATURES:
			larr, err := d.DecodeArrayLen()
			if err != nil {
				return false, err
			}
			info.Features = make([]ProtocolFeature, 0, larr)
			for i := 0; i < larr; i++ {
				code, err := d.DecodeInt()
				if err != nil {
					return false, err
				}
				if feature, err := ProtocolFeatureFromOrdinal(code); err == nil {
					info.Features = append(info.Features, feature)
				}
			}
		case iproto.IPROTO_AUTH_TYPE:
			auth, err := d.DecodeString()
			if err != nil {
				return false, err
			}
			info.Auth = parseAuth(auth)
		default:
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return info, err
	}
	if !hasVersion {
		return info, errors.New("no protocol version provided in Id response")
	}
	return info, nil
}

// checkProtocolInfo checks that required protocol version is
// and protocol features are supported.
func checkProtocolInfo(required ProtocolInfo, actual ProtocolInfo) error {
	if required.Version > actual.Version {
		return fmt.Errorf("protocol version %d is not supported",
			required.Version)
	}

	var missed []string
	for _, requiredFeature := range required.Features {
		if !actual.Has(requiredFeature) {
			missed = append(missed, requiredFeature.String())
		}
	}

	switch {
	case len(missed) == 1:
		return fmt.Errorf("protocol feature %s is not supported", missed[0])
	case len(missed) > 1:
		joined := strings.Join(missed, ", ")
		return fmt.Errorf("protocol features %s are not supported", joined)
	default:
		return nil
	}
}
