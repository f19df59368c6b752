package honkrpc

import (
	"fmt"

	"github.com/samber/oops"
)

// ErrorCode is the int32 error code carried by response and error sections.
// Zero is success, negative values are protocol errors defined here, and
// positive values belong to the application layer and pass through opaquely.
type ErrorCode int32

const (
	ErrorCodeSuccess         ErrorCode = 0
	ErrorCodeBadVersion      ErrorCode = -1
	ErrorCodeUnknownFunction ErrorCode = -2
	ErrorCodeUnknownVersion  ErrorCode = -3
	ErrorCodeBadArguments    ErrorCode = -4
	ErrorCodeFailure         ErrorCode = -5
	ErrorCodeBusy            ErrorCode = -6
	ErrorCodeTimeout         ErrorCode = -7
)

// Local-only codes describing how a call resolved without a peer response.
// They are never written to the wire.
const (
	ErrorCodeDecodeError ErrorCode = -101
	ErrorCodeClosed      ErrorCode = -102
	ErrorCodeAborted     ErrorCode = -103
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorCodeSuccess:
		return "success"
	case ErrorCodeBadVersion:
		return "bad_version"
	case ErrorCodeUnknownFunction:
		return "unknown_function"
	case ErrorCodeUnknownVersion:
		return "unknown_version"
	case ErrorCodeBadArguments:
		return "bad_arguments"
	case ErrorCodeFailure:
		return "failure"
	case ErrorCodeBusy:
		return "busy"
	case ErrorCodeTimeout:
		return "timeout"
	case ErrorCodeDecodeError:
		return "decode_error"
	case ErrorCodeClosed:
		return "closed"
	case ErrorCodeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("application(%d)", int32(e))
	}
}

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = oops.Errorf("honkrpc: session closed")
	// ErrMessageTooBig is returned when an envelope exceeds the size budget.
	ErrMessageTooBig = oops.Errorf("honkrpc: envelope exceeds message budget")
	// ErrBadEnvelope is returned when a frame is not a valid envelope.
	ErrBadEnvelope = oops.Errorf("honkrpc: malformed envelope")
)

// RemoteError reports an error code and message: from a session-fatal error
// section received from the peer, or from a non-complete Response via Err.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("honkrpc: remote error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("honkrpc: remote error %s", e.Code)
}
