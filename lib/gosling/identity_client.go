package gosling

import (
	"net"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/bson"
	"github.com/gosling-project/go-gosling/lib/crypto/ed25519"
	"github.com/gosling-project/go-gosling/lib/crypto/onion"
	"github.com/gosling-project/go-gosling/lib/crypto/x25519"
	"github.com/gosling-project/go-gosling/lib/honkrpc"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

type identityClientState int

const (
	identityClientStateBegin identityClientState = iota
	identityClientStateAwaitingChallenge
	identityClientStateAwaitingVerification
	identityClientStateDone
	identityClientStateFailed
)

// IdentityClient drives the client role of the identity handshake: prove
// ownership of our onion identity to a peer's identity service and receive
// fresh endpoint credentials.
type IdentityClient struct {
	rpc    *honkrpc.Session
	conn   net.Conn
	handle HandshakeHandle

	serverId     onion.V3OnionServiceId
	clientId     onion.V3OnionServiceId
	clientKey    *ed25519.PrivateKey
	endpointName string
	hooks        *IdentityClientHooks

	state        identityClientState
	beginCookie  honkrpc.RequestCookie
	sendCookie   honkrpc.RequestCookie
	serverCookie ServerCookie
}

// NewIdentityClient prepares a client handshake over an established session.
func NewIdentityClient(rpc *honkrpc.Session, serverId onion.V3OnionServiceId, endpointName string, clientKey *ed25519.PrivateKey, hooks *IdentityClientHooks, handle HandshakeHandle) (*IdentityClient, error) {
	clientId, err := onion.FromPrivateKey(clientKey)
	if err != nil {
		return nil, err
	}
	return &IdentityClient{
		rpc:          rpc,
		handle:       handle,
		serverId:     serverId,
		clientId:     clientId,
		clientKey:    clientKey,
		endpointName: endpointName,
		hooks:        hooks,
	}, nil
}

// SetConn attaches the transport connection so Close can release it.
func (c *IdentityClient) SetConn(conn net.Conn) {
	c.conn = conn
}

// IsTerminal reports whether the handshake has finished either way.
func (c *IdentityClient) IsTerminal() bool {
	return c.state == identityClientStateDone || c.state == identityClientStateFailed
}

// Close releases the session and its connection.
func (c *IdentityClient) Close() {
	_ = c.rpc.Close()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Update advances the handshake as far as the available bytes allow and
// returns at most one terminal event. A returned error means the session
// died; the caller owns converting it into a failure event.
func (c *IdentityClient) Update() (Event, error) {
	if c.IsTerminal() {
		return nil, nil
	}

	if err := c.rpc.Update(nil); err != nil {
		c.state = identityClientStateFailed
		return nil, err
	}

	switch c.state {
	case identityClientStateBegin:
		return nil, c.sendBeginHandshake()
	case identityClientStateAwaitingChallenge:
		return c.handleChallengeResponse()
	case identityClientStateAwaitingVerification:
		return c.handleVerificationResponse()
	default:
		return nil, nil
	}
}

func (c *IdentityClient) sendBeginHandshake() error {
	args := bson.NewDocument()
	for _, err := range []error{
		args.Set(fieldVersion, handshakeVersion),
		args.Set(fieldClientIdentity, c.clientId.String()),
		args.Set(fieldEndpoint, c.endpointName),
	} {
		if err != nil {
			c.state = identityClientStateFailed
			return err
		}
	}

	cookie, err := c.rpc.Call(identityNamespace, beginHandshakeFunction, handshakeApiVersion, args)
	if err != nil {
		c.state = identityClientStateFailed
		return err
	}
	c.beginCookie = cookie
	c.state = identityClientStateAwaitingChallenge

	log.WithFields(logger.Fields{
		"at":       "gosling.IdentityClient.sendBeginHandshake",
		"server":   c.serverId.String(),
		"endpoint": c.endpointName,
	}).Debug("identity handshake started")
	return nil
}

func (c *IdentityClient) handleChallengeResponse() (Event, error) {
	resp, ok := c.rpc.NextResponse()
	if !ok {
		return nil, nil
	}
	if resp.Cookie != c.beginCookie {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: response for cookie %d while awaiting challenge: %w", resp.Cookie, ErrUnexpectedResponse)
	}
	if resp.State == honkrpc.ResponseStateError {
		c.state = identityClientStateFailed
		return EndpointClientRequestFailed{Handle: c.handle, Code: resp.ErrorCode, Err: resp.Err()}, nil
	}

	result, ok := resp.Result.(*bson.Document)
	if !ok {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: begin_handshake result is %T: %w", resp.Result, ErrUnexpectedResponse)
	}
	cookieBytes, err := result.GetBinary(fieldServerCookie)
	if err != nil || len(cookieBytes) != ServerCookieSize {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: bad server cookie in challenge: %w", ErrUnexpectedResponse)
	}
	copy(c.serverCookie[:], cookieBytes)
	challenge, err := result.GetDocument(fieldEndpointChallenge)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: missing endpoint challenge: %w", ErrUnexpectedResponse)
	}

	// the consumer may size its response buffer first
	_ = c.hooks.challengeResponseSize(c.handle, c.endpointName)
	challengeResponse, err := c.hooks.buildChallengeResponse(c.handle, c.endpointName, challenge)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: challenge response hook failed: %w", err)
	}
	if challengeResponse == nil {
		challengeResponse = bson.NewDocument()
	}

	proof := buildClientProof(domainSeparatorIdentity, c.clientId, c.serverId, c.serverCookie, c.endpointName)
	signature, err := c.clientKey.Sign(proof)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, err
	}

	args := bson.NewDocument()
	for _, err := range []error{
		args.Set(fieldClientIdentityProof, signature),
		args.Set(fieldChallengeResponse, challengeResponse),
	} {
		if err != nil {
			c.state = identityClientStateFailed
			return nil, err
		}
	}
	sendCookie, err := c.rpc.Call(identityNamespace, sendResponseFunction, handshakeApiVersion, args)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, err
	}
	c.sendCookie = sendCookie
	c.state = identityClientStateAwaitingVerification
	return nil, nil
}

func (c *IdentityClient) handleVerificationResponse() (Event, error) {
	resp, ok := c.rpc.NextResponse()
	if !ok {
		return nil, nil
	}
	if resp.Cookie != c.sendCookie {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: response for cookie %d while awaiting verification: %w", resp.Cookie, ErrUnexpectedResponse)
	}
	if resp.State == honkrpc.ResponseStateError {
		c.state = identityClientStateFailed
		return EndpointClientRequestFailed{Handle: c.handle, Code: resp.ErrorCode, Err: resp.Err()}, nil
	}

	result, ok := resp.Result.(*bson.Document)
	if !ok {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: send_response result is %T: %w", resp.Result, ErrUnexpectedResponse)
	}
	endpointIdString, err := result.GetString(fieldEndpointServiceId)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: missing endpoint service id: %w", ErrUnexpectedResponse)
	}
	endpointId, err := onion.FromString(endpointIdString)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, err
	}
	authKeyBytes, err := result.GetBinary(fieldEndpointClientAuthId)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, oops.Errorf("gosling: missing endpoint client auth key: %w", ErrUnexpectedResponse)
	}
	authKey, err := x25519.PrivateKeyFromBytes(authKeyBytes)
	if err != nil {
		c.state = identityClientStateFailed
		return nil, err
	}

	c.state = identityClientStateDone
	log.WithFields(logger.Fields{
		"at":       "gosling.IdentityClient.handleVerificationResponse",
		"endpoint": endpointId.String(),
	}).Debug("identity handshake completed")
	return EndpointClientRequestCompleted{
		Handle:               c.handle,
		IdentityServiceId:    c.serverId,
		EndpointServiceId:    endpointId,
		EndpointName:         c.endpointName,
		ClientAuthPrivateKey: authKey,
	}, nil
}
