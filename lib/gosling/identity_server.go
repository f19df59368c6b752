package gosling

import (
	"net"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
)

type identityServerState int

const (
	identityServerStateWaitingForBegin identityServerState = iota
	identityServerStateWaitingForResponse
	identityServerStateAwaitingVerification
	identityServerStateDone
	identityServerStateFailed
)

type queuedResult struct {
	cookie honkrpc.RequestCookie
	result bson.Value
	code   honkrpc.ErrorCode
}

// PublishEndpointFunc publishes a freshly minted endpoint onion service,
// authorized only for the given client, before the handshake response goes
// out.
type PublishEndpointFunc func(endpointKey *ed25519.PrivateKey, endpointName string, client onion.V3OnionServiceId, clientAuthPub x25519.PublicKey) error

// IdentityServer drives the server role of the identity handshake on one
// accepted connection. It implements honkrpc.ApiSet for the
// gosling_identity namespace.
type IdentityServer struct {
	rpc    *honkrpc.Session
	conn   net.Conn
	handle HandshakeHandle

	serverId        onion.V3OnionServiceId
	hooks           *ServerHooks
	isBlocked       func(onion.V3OnionServiceId) bool
	publishEndpoint PublishEndpointFunc

	state        identityServerState
	beginCookie  honkrpc.RequestCookie
	sendCookie   honkrpc.RequestCookie
	clientId     onion.V3OnionServiceId
	endpointName string
	serverCookie ServerCookie
	challenge    *bson.Document

	queued   []queuedResult
	terminal Event

	// verdicts gathered along the way, surfaced on rejection
	clientAllowed          bool
	endpointValid          bool
	proofValid             bool
	challengeResponseValid bool
}

// NewIdentityServer prepares a server handshake over an accepted session.
func NewIdentityServer(rpc *honkrpc.Session, serverId onion.V3OnionServiceId, hooks *ServerHooks, isBlocked func(onion.V3OnionServiceId) bool, publishEndpoint PublishEndpointFunc, handle HandshakeHandle) *IdentityServer {
	return &IdentityServer{
		rpc:             rpc,
		handle:          handle,
		serverId:        serverId,
		hooks:           hooks,
		isBlocked:       isBlocked,
		publishEndpoint: publishEndpoint,
	}
}

// SetConn attaches the transport connection so Close can release it.
func (s *IdentityServer) SetConn(conn net.Conn) {
	s.conn = conn
}

// IsTerminal reports whether the handshake has finished either way.
func (s *IdentityServer) IsTerminal() bool {
	return s.state == identityServerStateDone || s.state == identityServerStateFailed
}

// Close releases the session and its connection.
func (s *IdentityServer) Close() {
	_ = s.rpc.Close()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// Update pumps the session, resolves pending challenge verdicts and returns
// at most one terminal event once its response has been flushed.
func (s *IdentityServer) Update() (Event, error) {
	if s.IsTerminal() {
		return nil, nil
	}

	if s.state == identityServerStateAwaitingVerification {
		s.resolvePendingVerdict()
	}

	if err := s.rpc.Update([]honkrpc.ApiSet{s}); err != nil {
		s.state = identityServerStateFailed
		return nil, err
	}

	if s.terminal != nil {
		event := s.terminal
		s.terminal = nil
		switch event.(type) {
		case IdentityServerHandshakeCompleted:
			s.state = identityServerStateDone
		default:
			s.state = identityServerStateFailed
		}
		return event, nil
	}
	return nil, nil
}

func (s *IdentityServer) resolvePendingVerdict() {
	verdict := s.hooks.pollChallengeResponseResult(s.handle)
	switch verdict {
	case VerdictPending:
		return
	case VerdictValid:
		s.challengeResponseValid = true
		result, code := s.finishHandshake()
		s.queued = append(s.queued, queuedResult{cookie: s.sendCookie, result: result, code: code})
	case VerdictInvalid:
		s.challengeResponseValid = false
		s.reject(ErrorCodeChallengeRejected)
		s.queued = append(s.queued, queuedResult{cookie: s.sendCookie, code: ErrorCodeChallengeRejected})
	}
}

// reject records the terminal rejection event that accompanies an error
// response.
func (s *IdentityServer) reject(code honkrpc.ErrorCode) {
	log.WithFields(logger.Fields{
		"at":     "gosling.IdentityServer.reject",
		"client": s.clientId.String(),
		"code":   ErrorCodeName(code),
	}).Debug("identity handshake rejected")
	s.terminal = IdentityServerHandshakeRejected{
		Handle:                 s.handle,
		ClientAllowed:          s.clientAllowed,
		EndpointValid:          s.endpointValid,
		ProofValid:             s.proofValid,
		ChallengeResponseValid: s.challengeResponseValid,
	}
}

// finishHandshake mints the endpoint credentials, publishes the endpoint
// onion service for the client and builds the success result. The service
// must be live before the response leaves.
func (s *IdentityServer) finishHandshake() (bson.Value, honkrpc.ErrorCode) {
	endpointKey, err := ed25519.GeneratePrivateKey()
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, honkrpc.ErrorCodeFailure
	}
	endpointServiceId, err := onion.FromPrivateKey(endpointKey)
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, honkrpc.ErrorCodeFailure
	}
	clientAuthKey, err := x25519.GeneratePrivateKey()
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, honkrpc.ErrorCodeFailure
	}
	clientAuthPub, err := clientAuthKey.PublicKey()
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, honkrpc.ErrorCodeFailure
	}

	if s.publishEndpoint != nil {
		if err := s.publishEndpoint(endpointKey, s.endpointName, s.clientId, clientAuthPub); err != nil {
			s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
			return nil, honkrpc.ErrorCodeFailure
		}
	}

	result := bson.NewDocument()
	for _, err := range []error{
		result.Set(fieldEndpointServiceId, endpointServiceId.String()),
		result.Set(fieldEndpointClientAuthId, clientAuthKey.Bytes()),
	} {
		if err != nil {
			s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
			return nil, honkrpc.ErrorCodeFailure
		}
	}

	s.terminal = IdentityServerHandshakeCompleted{
		Handle:              s.handle,
		EndpointPrivateKey:  endpointKey,
		EndpointName:        s.endpointName,
		ClientServiceId:     s.clientId,
		ClientAuthPublicKey: clientAuthPub,
	}
	log.WithFields(logger.Fields{
		"at":       "gosling.IdentityServer.finishHandshake",
		"client":   s.clientId.String(),
		"endpoint": endpointServiceId.String(),
	}).Debug("identity handshake completed")
	return result, honkrpc.ErrorCodeSuccess
}

// Namespace implements honkrpc.ApiSet.
func (s *IdentityServer) Namespace() string {
	return identityNamespace
}

// ExecFunction implements honkrpc.ApiSet.
func (s *IdentityServer) ExecFunction(name string, version int32, args *bson.Document, cookie honkrpc.RequestCookie) (bson.Value, bool, honkrpc.ErrorCode) {
	if version != handshakeApiVersion {
		return nil, false, honkrpc.ErrorCodeUnknownVersion
	}
	switch {
	case name == beginHandshakeFunction && s.state == identityServerStateWaitingForBegin:
		return s.execBeginHandshake(args, cookie)
	case name == sendResponseFunction && s.state == identityServerStateWaitingForResponse:
		return s.execSendResponse(args, cookie)
	case name == beginHandshakeFunction || name == sendResponseFunction:
		// right function, wrong stage
		return nil, false, honkrpc.ErrorCodeFailure
	default:
		return nil, false, honkrpc.ErrorCodeUnknownFunction
	}
}

func (s *IdentityServer) execBeginHandshake(args *bson.Document, cookie honkrpc.RequestCookie) (bson.Value, bool, honkrpc.ErrorCode) {
	s.beginCookie = cookie

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

	endpointName, err := args.GetString(fieldEndpoint)
	if err != nil || !validName(endpointName) {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	s.endpointName = endpointName

	s.clientAllowed = s.isBlocked == nil || !s.isBlocked(clientId)
	if !s.clientAllowed {
		s.reject(ErrorCodeBlocked)
		return nil, false, ErrorCodeBlocked
	}

	s.endpointValid = s.hooks.endpointSupported(endpointName)
	if !s.endpointValid {
		s.reject(ErrorCodeInvalidEndpoint)
		return nil, false, ErrorCodeInvalidEndpoint
	}

	serverCookie, err := newServerCookie()
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, false, honkrpc.ErrorCodeFailure
	}
	s.serverCookie = serverCookie

	challenge, err := s.hooks.buildChallenge(endpointName)
	if err != nil {
		s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
		return nil, false, honkrpc.ErrorCodeFailure
	}
	if challenge == nil {
		challenge = bson.NewDocument()
	}
	s.challenge = challenge

	result := bson.NewDocument()
	for _, err := range []error{
		result.Set(fieldServerCookie, serverCookie[:]),
		result.Set(fieldEndpointChallenge, challenge),
	} {
		if err != nil {
			s.terminal = IdentityServerHandshakeFailed{Handle: s.handle, Err: err}
			return nil, false, honkrpc.ErrorCodeFailure
		}
	}

	s.state = identityServerStateWaitingForResponse
	log.WithFields(logger.Fields{
		"at":       "gosling.IdentityServer.execBeginHandshake",
		"client":   clientId.String(),
		"endpoint": endpointName,
	}).Debug("challenge issued")
	return result, false, honkrpc.ErrorCodeSuccess
}

func (s *IdentityServer) execSendResponse(args *bson.Document, cookie honkrpc.RequestCookie) (bson.Value, bool, honkrpc.ErrorCode) {
	s.sendCookie = cookie

	signature, err := args.GetBinary(fieldClientIdentityProof)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	challengeResponse, err := args.GetDocument(fieldChallengeResponse)
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}

	clientPub, err := s.clientId.PublicKey()
	if err != nil {
		return nil, false, honkrpc.ErrorCodeBadArguments
	}
	proof := buildClientProof(domainSeparatorIdentity, s.clientId, s.serverId, s.serverCookie, s.endpointName)
	s.proofValid = ed25519.Verify(clientPub, proof, signature)
	if !s.proofValid {
		s.reject(ErrorCodeBadProof)
		return nil, false, ErrorCodeBadProof
	}

	verdict := s.hooks.verifyChallengeResponse(s.endpointName, s.challenge, challengeResponse)
	switch verdict {
	case VerdictPending:
		s.state = identityServerStateAwaitingVerification
		return nil, true, honkrpc.ErrorCodeSuccess
	case VerdictInvalid:
		s.challengeResponseValid = false
		s.reject(ErrorCodeChallengeRejected)
		return nil, false, ErrorCodeChallengeRejected
	default:
		s.challengeResponseValid = true
		result, code := s.finishHandshake()
		return result, false, code
	}
}

// NextResult implements honkrpc.ApiSet, draining results produced by
// asynchronous challenge verification.
func (s *IdentityServer) NextResult() (honkrpc.RequestCookie, bson.Value, honkrpc.ErrorCode, bool) {
	if len(s.queued) == 0 {
		return 0, nil, honkrpc.ErrorCodeSuccess, false
	}
	next := s.queued[0]
	s.queued = s.queued[1:]
	return next.cookie, next.result, next.code, true
}
