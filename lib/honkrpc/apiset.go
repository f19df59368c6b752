package honkrpc

import (
	"github.com/gosling-project/go-gosling/lib/bson"
)

// ApiSet serves the functions of one namespace on a session.
//
// ExecFunction handles an inbound request. It returns the result directly,
// reports pending=true when the answer will be produced asynchronously, or
// reports a non-success code. Async results are drained through NextResult
// on every session update; the session discards results whose request was
// cancelled in the meantime.
type ApiSet interface {
	Namespace() string
	ExecFunction(name string, version int32, args *bson.Document, cookie RequestCookie) (result bson.Value, pending bool, code ErrorCode)
	NextResult() (RequestCookie, bson.Value, ErrorCode, bool)
}
