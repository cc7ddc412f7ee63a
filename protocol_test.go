package tarantool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-iproto"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func TestProtocolFeatureFromOrdinal(t *testing.T) {
	for i, expected := range ProtocolFeatures() {
		feature, err := ProtocolFeatureFromOrdinal(i)
		require.NoError(t, err)
		assert.Equal(t, expected, feature)
	}

	feature, err := ProtocolFeatureFromOrdinal(4)
	require.NoError(t, err)
	assert.Equal(t, PaginationFeature, feature)

	for _, ordinal := range []int{5, -1, 100} {
		_, err := ProtocolFeatureFromOrdinal(ordinal)
		assert.ErrorIs(t, err, ErrInvalidFeature)
	}
}

func TestProtocolFeature_String(t *testing.T) {
	assert.Equal(t, "StreamsFeature", StreamsFeature.String())
	assert.Equal(t, "PaginationFeature", PaginationFeature.String())
	assert.Equal(t, "Unknown feature (code 15)", ProtocolFeature(15).String())
}

func TestProtocolInfoClonePreservesFeatures(t *testing.T) {
	original := ProtocolInfo{
		Version:  ProtocolVersion(100),
		Features: []ProtocolFeature{ProtocolFeature(99), ProtocolFeature(100)},
	}

	origCopy := original.Clone()

	original.Features[1] = ProtocolFeature(98)

	require.Equal(t,
		origCopy,
		ProtocolInfo{
			Version:  ProtocolVersion(100),
			Features: []ProtocolFeature{ProtocolFeature(99), ProtocolFeature(100)},
		})
}

func TestCheckProtocolInfo(t *testing.T) {
	actual := ProtocolInfo{
		Version:  4,
		Features: []ProtocolFeature{StreamsFeature, TransactionsFeature},
	}

	assert.NoError(t, CheckProtocolInfo(ProtocolInfo{}, actual))
	assert.NoError(t, CheckProtocolInfo(ProtocolInfo{
		Version:  3,
		Features: []ProtocolFeature{StreamsFeature},
	}, actual))

	assert.EqualError(t, CheckProtocolInfo(ProtocolInfo{Version: 5}, actual),
		"protocol version 5 is not supported")
	assert.EqualError(t, CheckProtocolInfo(ProtocolInfo{
		Features: []ProtocolFeature{WatchersFeature},
	}, actual), "protocol feature WatchersFeature is not supported")
	assert.EqualError(t, CheckProtocolInfo(ProtocolInfo{
		Features: []ProtocolFeature{WatchersFeature, PaginationFeature},
	}, actual), "protocol features WatchersFeature, PaginationFeature are not supported")
}

func decodeIdReply(t *testing.T, body map[iproto.Key]interface{}) (ProtocolInfo, error) {
	t.Helper()

	packet, err := test_helpers.EncodeReply(1, test_helpers.Reply{
		Code: uint32(iproto.IPROTO_OK),
		Body: body,
	})
	require.NoError(t, err)
	frames := feedAll(t, [][]byte{packet})
	require.Len(t, frames, 1)
	return DecodeProtocolInfo(NewResponse(frames[0]))
}

func TestDecodeProtocolInfo(t *testing.T) {
	info, err := decodeIdReply(t, map[iproto.Key]interface{}{
		iproto.IPROTO_VERSION:   6,
		iproto.IPROTO_FEATURES:  []int{0, 3, 42},
		iproto.IPROTO_AUTH_TYPE: "pap-sha256",
	})
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion(6), info.Version)
	assert.Equal(t, []ProtocolFeature{StreamsFeature, WatchersFeature}, info.Features)
	assert.Equal(t, PapSha256Auth, info.Auth)
	assert.True(t, info.Has(WatchersFeature))
	assert.False(t, info.Has(PaginationFeature))

	_, err = decodeIdReply(t, map[iproto.Key]interface{}{
		iproto.IPROTO_FEATURES: []int{0},
	})
	assert.Error(t, err)
}
