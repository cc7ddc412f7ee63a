package tarantool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-iproto"

	. "github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func TestStream_Transaction(t *testing.T) {
	var mutex sync.Mutex
	var seen []*test_helpers.IncomingRequest
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{
		Handler: func(req *test_helpers.IncomingRequest) []test_helpers.Reply {
			if req.Header.StreamId != 0 {
				mutex.Lock()
				seen = append(seen, req)
				mutex.Unlock()
			}
			return test_helpers.DefaultHandler(req)
		},
	})
	conn := test_helpers.ConnectWithValidation(t, srv.Addr(), opts)

	stream, err := conn.NewStream()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stream.Id)

	_, err = stream.Do(NewBeginRequest().
		TxnIsolation(ReadCommittedLevel).
		Timeout(500 * time.Millisecond)).Get()
	require.NoError(t, err)
	data, err := stream.Do(NewCallRequest("echo").Args([]interface{}{"in tx"})).Get()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"in tx"}, data)
	_, err = stream.Do(NewCommitRequest()).Get()
	require.NoError(t, err)

	mutex.Lock()
	recorded := append([]*test_helpers.IncomingRequest(nil), seen...)
	mutex.Unlock()

	require.Len(t, recorded, 3)
	for _, req := range recorded {
		assert.Equal(t, uint64(1), req.Header.StreamId)
	}
	assert.Equal(t, iproto.IPROTO_BEGIN, recorded[0].Type())
	assert.Equal(t, 0.5, recorded[0].Body[iproto.IPROTO_TIMEOUT])
	assert.EqualValues(t, ReadCommittedLevel, recorded[0].Body[iproto.IPROTO_TXN_ISOLATION])
	assert.Equal(t, iproto.IPROTO_COMMIT, recorded[2].Type())

	other, err := conn.NewStream()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), other.Id)
	_, err = other.Do(NewRollbackRequest()).Get()
	assert.NoError(t, err)

	mutex.Lock()
	defer mutex.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, uint64(2), seen[3].Header.StreamId)
	assert.Equal(t, iproto.IPROTO_ROLLBACK, seen[3].Type())
}

func TestStream_Unsupported(t *testing.T) {
	srv := test_helpers.NewServer(t, test_helpers.ServerOpts{Features: []int{}})
	conn := test_helpers.ConnectWithValidation(t, srv.Addr(), opts)

	_, err := conn.NewStream()
	assert.EqualError(t, err, "StreamsFeature is not supported by "+srv.Addr())
}
