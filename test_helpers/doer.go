package test_helpers

import (
	"sync"
	"testing"

	"github.com/ice-blockchain/go-tarantool-client"
)

type doerResponse struct {
	resp *MockResponse
	err  error
}

// MockDoer is an implementation of the Doer interface
// used for testing purposes.
type MockDoer struct {
	// Requests is a slice of received requests.
	// It could be used to compare incoming requests with expected.
	Requests  []tarantool.Request
	responses []doerResponse
	mutex     sync.Mutex
	t         *testing.T
}

var _ tarantool.Doer = (*MockDoer)(nil)

// NewMockDoer creates a MockDoer by given responses.
// Each response could be one of two types: MockResponse or error.
func NewMockDoer(t *testing.T, responses ...interface{}) *MockDoer {
	t.Helper()

	mockDoer := &MockDoer{t: t}
	for _, response := range responses {
		doerResp := doerResponse{}

		switch resp := response.(type) {
		case *MockResponse:
			doerResp.resp = resp
		case error:
			doerResp.err = resp
		default:
			t.Fatalf("unsupported type: %T", response)
		}

		mockDoer.responses = append(mockDoer.responses, doerResp)
	}
	return mockDoer
}

// Do returns a future with the current response or an error.
// It saves the current request into MockDoer.Requests.
func (doer *MockDoer) Do(req tarantool.Request) *tarantool.Future {
	doer.mutex.Lock()
	defer doer.mutex.Unlock()

	doer.Requests = append(doer.Requests, req)

	if len(doer.responses) == 0 {
		doer.t.Fatalf("list of responses is empty")
	}
	response := doer.responses[0]
	doer.responses = doer.responses[1:]

	fut := tarantool.NewFuture(req)
	if response.err != nil {
		fut.SetError(response.err)
	} else {
		fut.SetResponse(response.resp.header, response.resp.payload)
	}
	return fut
}
