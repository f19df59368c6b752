package gosling

import (
	"github.com/gosling-project/go-gosling/lib/honkrpc"
	"github.com/samber/oops"
)

// Application error codes carried in Honk-RPC error responses. They are
// positive to stay clear of the protocol's own codes.
const (
	ErrorCodeInvalidEndpoint   honkrpc.ErrorCode = 1
	ErrorCodeBlocked           honkrpc.ErrorCode = 2
	ErrorCodeBadProof          honkrpc.ErrorCode = 3
	ErrorCodeChallengeRejected honkrpc.ErrorCode = 4
	ErrorCodeNotAuthorized     honkrpc.ErrorCode = 5
	ErrorCodeNotSupported      honkrpc.ErrorCode = 6
	ErrorCodeInvalidChannel    honkrpc.ErrorCode = 7
)

// ErrorCodeName renders an application code for logs and events.
func ErrorCodeName(code honkrpc.ErrorCode) string {
	switch code {
	case ErrorCodeInvalidEndpoint:
		return "invalid_endpoint"
	case ErrorCodeBlocked:
		return "blocked"
	case ErrorCodeBadProof:
		return "bad_proof"
	case ErrorCodeChallengeRejected:
		return "challenge_rejected"
	case ErrorCodeNotAuthorized:
		return "not_authorized"
	case ErrorCodeNotSupported:
		return "not_supported"
	case ErrorCodeInvalidChannel:
		return "invalid_channel"
	default:
		return code.String()
	}
}

var (
	// ErrNotBootstrapped is returned for operations requiring a completed
	// Tor bootstrap.
	ErrNotBootstrapped = oops.Errorf("gosling: tor bootstrap not complete")
	// ErrContextClosed is returned by operations on a closed Context.
	ErrContextClosed = oops.Errorf("gosling: context closed")
	// ErrHandshakeAborted marks handshakes torn down by a Stop operation.
	ErrHandshakeAborted = oops.Errorf("gosling: handshake aborted")
	// ErrUnknownHandle is returned when a handle matches no handshake.
	ErrUnknownHandle = oops.Errorf("gosling: no handshake with that handle")
	// ErrUnexpectedResponse marks a peer reply that violates the handshake
	// sequence.
	ErrUnexpectedResponse = oops.Errorf("gosling: unexpected handshake response")
)
