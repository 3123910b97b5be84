package rpcclient

import "fmt"

// TransportError wraps a network or parse failure talking to the RPC
// endpoint. It is retried by getBlock's backoff loop; once that budget is
// exhausted the wrapped error is surfaced as-is to the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("rpc transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// SchemaMismatchError fires when the endpoint answers with a height other
// than the one requested, or omits a mandatory field. Per spec it is
// retried exactly like TransportError.
type SchemaMismatchError struct {
	Requested, Got uint64
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("rpc schema mismatch: requested block %d, got %d", e.Requested, e.Got)
}
