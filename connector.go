package tarantool

// Doer is an interface that performs requests asynchronously.
type Doer interface {
	// Do performs a request asynchronously.
	Do(req Request) *Future
}
