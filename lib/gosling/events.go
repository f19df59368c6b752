package gosling

import (
	"net"

	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
)

// Event is a notification drained from Context.PollEvents. Events carry
// owned values; streams inside completion events belong to the consumer.
type Event interface {
	contextEvent()
}

// TorBootstrapStatus reports bootstrap progress from 0 to 100.
type TorBootstrapStatus struct {
	Progress int
	Tag      string
	Summary  string
}

// TorBootstrapCompleted reports that the backend finished bootstrapping.
type TorBootstrapCompleted struct{}

// TorBootstrapError reports a failed bootstrap.
type TorBootstrapError struct {
	Err error
}

// TorLogReceived carries a line of backend log output.
type TorLogReceived struct {
	Line string
}

// IdentityServerPublished reports that the identity onion service is
// reachable.
type IdentityServerPublished struct{}

// EndpointServerPublished reports that an endpoint onion service is
// reachable.
type EndpointServerPublished struct {
	EndpointServiceId onion.V3OnionServiceId
	EndpointName      string
}

// EndpointClientRequestCompleted reports a finished client-side identity
// handshake: the peer issued endpoint credentials.
type EndpointClientRequestCompleted struct {
	Handle               HandshakeHandle
	IdentityServiceId    onion.V3OnionServiceId
	EndpointServiceId    onion.V3OnionServiceId
	EndpointName         string
	ClientAuthPrivateKey *x25519.PrivateKey
}

// EndpointClientRequestFailed reports a failed client-side identity
// handshake. Code is set when the server replied with an error response.
type EndpointClientRequestFailed struct {
	Handle HandshakeHandle
	Code   honkrpc.ErrorCode
	Err    error
}

// IdentityServerHandshakeCompleted reports a finished server-side identity
// handshake. The endpoint onion service is already published for the
// client; the key is surfaced so the consumer can persist or re-publish it.
type IdentityServerHandshakeCompleted struct {
	Handle              HandshakeHandle
	EndpointPrivateKey  *ed25519.PrivateKey
	EndpointName        string
	ClientServiceId     onion.V3OnionServiceId
	ClientAuthPublicKey x25519.PublicKey
}

// IdentityServerHandshakeRejected reports a server-side identity handshake
// that was turned away by policy, with the individual verdicts.
type IdentityServerHandshakeRejected struct {
	Handle                 HandshakeHandle
	ClientAllowed          bool
	EndpointValid          bool
	ProofValid             bool
	ChallengeResponseValid bool
}

// IdentityServerHandshakeFailed reports a server-side identity handshake
// that died from a protocol or transport error.
type IdentityServerHandshakeFailed struct {
	Handle HandshakeHandle
	Err    error
}

// EndpointClientChannelRequestCompleted reports an open channel on the
// client side. Stream ownership transfers to the consumer.
type EndpointClientChannelRequestCompleted struct {
	Handle            HandshakeHandle
	EndpointServiceId onion.V3OnionServiceId
	ChannelName       string
	Stream            net.Conn
}

// EndpointClientChannelRequestFailed reports a failed client-side endpoint
// handshake.
type EndpointClientChannelRequestFailed struct {
	Handle HandshakeHandle
	Code   honkrpc.ErrorCode
	Err    error
}

// EndpointServerChannelRequestCompleted reports an open channel on the
// server side. Stream ownership transfers to the consumer.
type EndpointServerChannelRequestCompleted struct {
	Handle            HandshakeHandle
	EndpointServiceId onion.V3OnionServiceId
	ClientServiceId   onion.V3OnionServiceId
	ChannelName       string
	Stream            net.Conn
}

// EndpointServerChannelRequestFailed reports a failed server-side endpoint
// handshake.
type EndpointServerChannelRequestFailed struct {
	Handle HandshakeHandle
	Err    error
}

func (TorBootstrapStatus) contextEvent()                    {}
func (TorBootstrapCompleted) contextEvent()                 {}
func (TorBootstrapError) contextEvent()                     {}
func (TorLogReceived) contextEvent()                        {}
func (IdentityServerPublished) contextEvent()               {}
func (EndpointServerPublished) contextEvent()               {}
func (EndpointClientRequestCompleted) contextEvent()        {}
func (EndpointClientRequestFailed) contextEvent()           {}
func (IdentityServerHandshakeCompleted) contextEvent()      {}
func (IdentityServerHandshakeRejected) contextEvent()       {}
func (IdentityServerHandshakeFailed) contextEvent()         {}
func (EndpointClientChannelRequestCompleted) contextEvent() {}
func (EndpointClientChannelRequestFailed) contextEvent()    {}
func (EndpointServerChannelRequestCompleted) contextEvent() {}
func (EndpointServerChannelRequestFailed) contextEvent()    {}
