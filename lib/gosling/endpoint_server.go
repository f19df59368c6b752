package gosling

import (
	"net"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
)

type endpointServerState int

const (
	endpointServerStateWaitingForBegin endpointServerState = iota
	endpointServerStateWaitingForResponse
	endpointServerStateDone
	endpointServerStateFailed
)

// EndpointServer drives the server role of the endpoint handshake on one
// connection accepted by an endpoint onion service. It implements
// honkrpc.ApiSet for the gosling_endpoint namespace.
type EndpointServer struct {
	rpc    *honkrpc.Session
	conn   net.Conn
	handle HandshakeHandle

	serverId      onion.V3OnionServiceId
	allowedClient onion.V3OnionServiceId
	hooks         *ServerHooks

	state        endpointServerState
	clientId     onion.V3OnionServiceId
	channelName  string
	serverCookie ServerCookie
	terminal     Event
}

// NewEndpointServer prepares a server-side channel handshake. allowedClient
// is the single identity the endpoint service was published for.
func NewEndpointServer(rpc *honkrpc.Session, serverId, allowedClient onion.V3OnionServiceId, hooks *ServerHooks, handle HandshakeHandle) *EndpointServer {
	return &EndpointServer{
		rpc:           rpc,
		handle:        handle,
		serverId:      serverId,
		allowedClient: allowedClient,
		hooks:         hooks,
	}
}

// SetConn attaches the transport connection that becomes the channel on
// success.
func (s *EndpointServer) SetConn(conn net.Conn) {
	s.conn = conn
}

// IsTerminal reports whether the handshake has finished either way.
func (s *EndpointServer) IsTerminal() bool {
	return s.state == endpointServerStateDone || s.state == endpointServerStateFailed
}

// Close releases the session; the connection is only closed when it was not
// promoted to a channel.
func (s *EndpointServer) Close() {
	_ = s.rpc.Close()
	if s.conn != nil && s.state != endpointServerStateDone {
		_ = s.conn.Close()
	}
}

// Update pumps the session and returns at most one terminal event once its
// response has been flushed.
func (s *EndpointServer) Update() (Event, error) {
	if s.IsTerminal() {
		return nil, nil
	}

	if err := s.rpc.Update([]honkrpc.ApiSet{s}); err != nil {
		s.state = endpointServerStateFailed
		return nil, err
	}

	if s.terminal != nil {
		event := s.terminal
		s.terminal = nil
		switch event.(type) {
		case EndpointServerChannelRequestCompleted:
			s.state = endpointServerStateDone
			_ = s.rpc.Close()
			if s.conn != nil {
				_ = s.conn.SetReadDeadline(time.Time{})
			}
		default:
			s.state = endpointServerStateFailed
		}
		return event, nil
	}
	return nil, nil
}

// Namespace implements honkrpc.ApiSet.
func (s *EndpointServer) Namespace() string {
	return endpointNamespace
}

// ExecFunction implements honkrpc.ApiSet.
func (s *EndpointServer) ExecFunction(name string, version int32, args *bson.Document, cookie honkrpc.RequestCookie) (bson.Value, bool, honkrpc.ErrorCode) {
	if version != handshakeApiVersion {
		return nil, false, honkrpc.ErrorCodeUnknownVersion
	}
	switch {
	case name == beginHandshakeFunction && s.state == endpointServerStateWaitingForBegin:
		return s.execBeginHandshake(args)
	case name == sendResponseFunction && s.state == endpointServerStateWaitingForResponse:
		return s.execSendResponse(args)
	case name == beginHandshakeFunction || name == sendResponseFunction:
		return nil, false, honkrpc.ErrorCodeFailure
	default:
		return nil, false, honkrpc.ErrorCodeUnknownFunction
	}
}

func (s *EndpointServer) execBeginHandshake(args *bson.Document) (bson.Value, bool, honkrpc.ErrorCode) {
	protoVersion, err := args.GetInt32(fieldVersion)
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	if protoVersion != handshakeVersion {
		return nil, false, honkrpc.ErrorCodeUnknownVersion
	}

	clientIdentity, err := args.GetString(fieldClientIdentity)
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	clientId, err := onion.FromString(clientIdentity)
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	s.clientId = clientId

	channelName, err := args.GetString(fieldChannel)
	if err != nil || !validName(channelName) {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	s.channelName = channelName

	// the transport already enforced client auth; the claimed identity must
	// still be the one this endpoint was published for
	if clientId != s.allowedClient {
		s.fail(ErrorCodeNotAuthorized)
		return nil, false, ErrorCodeNotAuthorized
	}
	if !s.hooks.channelSupported(channelName) {
		s.fail(ErrorCodeInvalidChannel)
		return nil, false, ErrorCodeInvalidChannel
	}

	serverCookie, err := newServerCookie()
	if err != nil {
		s.terminal = EndpointServerChannelRequestFailed{Handle: s.handle, Err: err}
		return nil, false, honkrpc.ErrorCodeFailure
	}
	s.serverCookie = serverCookie

	result := bson.NewDocument()
	if err := result.Set(fieldServerCookie, serverCookie[:]); err != nil {
		s.terminal = EndpointServerChannelRequestFailed{Handle: s.handle, Err: err}
		return nil, false, honkrpc.ErrorCodeFailure
	}

	s.state = endpointServerStateWaitingForResponse
	log.WithFields(logger.Fields{
		"at":      "gosling.EndpointServer.execBeginHandshake",
		"client":  clientId.String(),
		"channel": channelName,
	}).Debug("channel request received")
	return result, false, honkrpc.ErrorCodeSuccess
}

func (s *EndpointServer) execSendResponse(args *bson.Document) (bson.Value, bool, honkrpc.ErrorCode) {
	signature, err := args.GetBinary(fieldClientIdentityProof)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}

	clientPub, err := s.clientId.PublicKey()
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	proof := buildClientProof(domainSeparatorEndpoint, s.clientId, s.serverId, s.serverCookie, s.channelName)
	if !ed25519.Verify(clientPub, proof, signature) {
		s.fail(ErrorCodeBadProof)
		return nil, false, ErrorCodeBadProof
	}

	s.terminal = EndpointServerChannelRequestCompleted{
		Handle:            s.handle,
		EndpointServiceId: s.serverId,
		ClientServiceId:   s.clientId,
		ChannelName:       s.channelName,
		Stream:            s.conn,
	}
	// empty result document; after it flushes the stream is the channel
	return bson.NewDocument(), false, honkrpc.ErrorCodeSuccess
}

func (s *EndpointServer) fail(code honkrpc.ErrorCode) {
	log.WithFields(logger.Fields{
		"at":      "gosling.EndpointServer.fail",
		"client":  s.clientId.String(),
		"channel": s.channelName,
		"code":    ErrorCodeName(code),
	}).Debug("channel request rejected")
	s.terminal = EndpointServerChannelRequestFailed{
		Handle: s.handle,
		Err:    &honkrpc.RemoteError{Code: code},
	}
}

// NextResult implements honkrpc.ApiSet; the endpoint handshake never goes
// async.
func (s *EndpointServer) NextResult() (honkrpc.RequestCookie, bson.Value, honkrpc.ErrorCode, bool) {
	return 0, nil, honkrpc.ErrorCodeSuccess, false
}
