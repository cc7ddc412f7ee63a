package test_helpers_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tarantool/go-iproto"

	"github.com/ice-blockchain/go-tarantool-client"
	"github.com/ice-blockchain/go-tarantool-client/test_helpers"
)

func TestExampleMockDoer(t *testing.T) {
	mockDoer := test_helpers.NewMockDoer(t,
		test_helpers.NewMockResponse(t, []interface{}{"some data"}),
		errors.New("some error"),
		test_helpers.NewMockResponse(t, "some typed data"),
		test_helpers.NewMockErrorResponse(t, iproto.ER_NO_SUCH_PROC, "no such proc"),
	)

	data, err := mockDoer.Do(tarantool.NewPingRequest()).Get()
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"some data"}, data)

	data, err = mockDoer.Do(tarantool.NewCallRequest("foo")).Get()
	assert.EqualError(t, err, "some error")
	assert.Nil(t, data)

	var stringData string
	err = mockDoer.Do(tarantool.NewEvalRequest("return ...")).GetTyped(&stringData)
	assert.NoError(t, err)
	assert.Equal(t, "some typed data", stringData)

	_, err = mockDoer.Do(tarantool.NewCallRequest("bar")).Get()
	var tntErr tarantool.Error
	assert.ErrorAs(t, err, &tntErr)
	assert.Equal(t, iproto.ER_NO_SUCH_PROC, tntErr.Code)
	assert.Equal(t, "no such proc", tntErr.Msg)

	assert.Len(t, mockDoer.Requests, 4)
}
