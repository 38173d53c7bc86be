package callbridge

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrMissingResponse is returned by unary-result calls when the transport
// reports an OK terminal status without ever having delivered a response
// message. It indicates a misbehaving transport or server, not a failed
// call, so it is kept distinct from StatusError.
var ErrMissingResponse = errors.New("call terminated with OK status but no response message")

// StatusError is returned when a call terminates with a non-OK status. It
// carries the status and the trailing metadata that arrived with it.
type StatusError struct {
	st       *status.Status
	trailers metadata.MD
}

func newStatusError(st *status.Status, trailers metadata.MD) *StatusError {
	return &StatusError{st: st, trailers: trailers}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("call failed: code = %s desc = %s", e.st.Code(), e.st.Message())
}

// GRPCStatus returns the terminal status. Its presence makes the error
// interoperate with the status package, so status.Code and status.FromError
// report the underlying code.
func (e *StatusError) GRPCStatus() *status.Status {
	return e.st
}

// Trailers returns the trailing metadata delivered with the terminal status.
func (e *StatusError) Trailers() metadata.MD {
	return e.trailers
}
